package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybridge/server/internal/model"
)

func newRequestFixture(clientKey string) NewRequest {
	return NewRequest{
		ClientKey:      clientKey,
		BuyerPhone:     "0521111111",
		BuyerName:      "Dana",
		SellerPhone:    "0501234567",
		SellerIDNumber: "123456789",
		Vehicle:        model.VehicleDetails{Plate: "1234567", Make: "toyota", Model: "corolla", Year: 2022, Trim: "hybrid_sun"},
		Pricing:        model.PriceBand{MinPrice: 92000, MaxPrice: 108000, AvgPrice: 100000},
		OwnerCount:     1,
		Mileage:        50000,
	}
}

func TestMemoryStore_createRequestDefaults(t *testing.T) {
	s := NewMemoryStore()
	req, err := s.CreateRequest(context.Background(), newRequestFixture("key-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Nil(t, req.AgreedPrice)
	assert.False(t, req.PaymentComplete)
	assert.False(t, req.TransferComplete)
	assert.False(t, req.CreatedAt.IsZero())
}

func TestMemoryStore_createRequestIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)
	// a retry with the same idempotency key returns the same record
	second, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// a fresh key creates a new record
	third, err := s.CreateRequest(ctx, newRequestFixture("key-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestMemoryStore_approveGuardsPendingOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)

	require.NoError(t, s.ApproveRequest(ctx, req.ID))
	assert.ErrorIs(t, s.ApproveRequest(ctx, req.ID), ErrConflict)
	assert.ErrorIs(t, s.RejectRequest(ctx, req.ID), ErrConflict)
	assert.ErrorIs(t, s.ApproveRequest(ctx, "no-such-id"), ErrNotFound)
}

func TestMemoryStore_happyPathFieldImplications(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)

	require.NoError(t, s.ApproveRequest(ctx, req.ID))
	require.NoError(t, s.SetAgreedPrice(ctx, req.ID, 150000))

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPriceSet, got.Status)
	require.NotNil(t, got.AgreedPrice)
	assert.Equal(t, 150000, *got.AgreedPrice)

	require.NoError(t, s.ConfirmPrice(ctx, req.ID))
	require.NoError(t, s.MarkPaymentComplete(ctx, req.ID))
	got, err = s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, got.Status)
	assert.True(t, got.PaymentComplete)
	assert.NotNil(t, got.AgreedPrice, "payment_complete implies agreed_price")

	require.NoError(t, s.MarkTransferComplete(ctx, req.ID))
	got, err = s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.True(t, got.TransferComplete)
	assert.True(t, got.PaymentComplete, "transfer_complete implies payment_complete")
}

func TestMemoryStore_subscribeDeliversInitialSnapshot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)

	var got []*model.TransactionRequest
	unsub := s.SubscribeToRequest(req.ID, func(r *model.TransactionRequest) {
		got = append(got, r)
	})
	defer unsub()

	require.Len(t, got, 1)
	require.NotNil(t, got[0])
	assert.Equal(t, model.StatusPending, got[0].Status)
}

func TestMemoryStore_subscribeMissingRecordDeliversNil(t *testing.T) {
	s := NewMemoryStore()
	var got []*model.TransactionRequest
	unsub := s.SubscribeToRequest("missing", func(r *model.TransactionRequest) {
		got = append(got, r)
	})
	defer unsub()

	require.Len(t, got, 1)
	assert.Nil(t, got[0])
}

func TestMemoryStore_subscriberSeesUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)

	var statuses []model.RequestStatus
	unsub := s.SubscribeToRequest(req.ID, func(r *model.TransactionRequest) {
		if r != nil {
			statuses = append(statuses, r.Status)
		}
	})
	defer unsub()

	require.NoError(t, s.ApproveRequest(ctx, req.ID))
	require.NoError(t, s.SetAgreedPrice(ctx, req.ID, 120000))

	assert.Equal(t, []model.RequestStatus{
		model.StatusPending, model.StatusApproved, model.StatusPriceSet,
	}, statuses)
}

func TestMemoryStore_unsubscribeIdempotentAndFinal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)

	calls := 0
	unsub := s.SubscribeToRequest(req.ID, func(*model.TransactionRequest) { calls++ })
	require.Equal(t, 1, calls)

	unsub()
	unsub() // second call must be a no-op

	require.NoError(t, s.ApproveRequest(ctx, req.ID))
	assert.Equal(t, 1, calls, "no delivery after unsubscribe")
}

func TestMemoryStore_sellerRequestsCompositeFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// two sellers share a phone number but differ in id number
	reqA := newRequestFixture("key-a")
	reqA.SellerIDNumber = "111111111"
	reqB := newRequestFixture("key-b")
	reqB.SellerIDNumber = "222222222"
	_, err := s.CreateRequest(ctx, reqA)
	require.NoError(t, err)
	created, err := s.CreateRequest(ctx, reqB)
	require.NoError(t, err)

	var lists [][]model.TransactionRequest
	unsub := s.SubscribeToSellerRequests(reqB.SellerPhone, "222222222", func(list []model.TransactionRequest) {
		lists = append(lists, list)
	})
	defer unsub()

	require.Len(t, lists, 1)
	require.Len(t, lists[0], 1)
	assert.Equal(t, created.ID, lists[0][0].ID)
	assert.Equal(t, "222222222", lists[0][0].SellerIDNumber)
}

func TestMemoryStore_sellerSubscriberSeesNewRequests(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var lists [][]model.TransactionRequest
	unsub := s.SubscribeToSellerRequests("0501234567", "123456789", func(list []model.TransactionRequest) {
		lists = append(lists, list)
	})
	defer unsub()

	require.Len(t, lists, 1)
	assert.Empty(t, lists[0])

	_, err := s.CreateRequest(ctx, newRequestFixture("key-1"))
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Len(t, lists[1], 1)
}

func TestMemoryStore_registerSellerUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.IsSellerRegistered(ctx, "0501234567", "123456789")
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := s.RegisterSeller(ctx, "0501234567", "123456789")
	require.NoError(t, err)
	second, err := s.RegisterSeller(ctx, "0501234567", "123456789")
	require.NoError(t, err)
	assert.False(t, second.RegisteredAt.Before(first.RegisteredAt))

	ok, err = s.IsSellerRegistered(ctx, "0501234567", "123456789")
	require.NoError(t, err)
	assert.True(t, ok)

	// same phone, different id number is a different seller
	ok, err = s.IsSellerRegistered(ctx, "0501234567", "999999999")
	require.NoError(t, err)
	assert.False(t, ok)
}
