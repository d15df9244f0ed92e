// Package store holds the shared transaction record store: durable storage
// of seller profiles and transaction requests with point lookup and change
// notification. Both participants' flow machines read and write the same
// records; every mutation is a single partial update of only the fields the
// calling role owns, so concurrent writers never clobber each other.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/moneybridge/server/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a guarded status transition finds the
	// record in a different status than required.
	ErrConflict = errors.New("request is not in the required status")
)

// NewRequest carries the buyer-provided fields for request creation. The id
// is always store-assigned; ClientKey is a buyer-generated idempotency key
// so that retrying a failed creation cannot produce a duplicate record.
type NewRequest struct {
	ClientKey      string
	BuyerPhone     string
	BuyerName      string
	SellerPhone    string
	SellerIDNumber string
	Vehicle        model.VehicleDetails
	Pricing        model.PriceBand
	OwnerCount     int
	Mileage        int
}

// Unsubscribe stops delivery for one subscription. It is idempotent, and no
// callback fires after the first call returns.
type Unsubscribe func()

// Store is the shared record store contract. Writes are atomic per call and
// propagate transport errors to the caller without internal retry.
// Subscriptions deliver the current value immediately (nil if the record
// does not exist yet) and again on every subsequent change, at least once
// per change and eventually consistent with the latest write.
type Store interface {
	RegisterSeller(ctx context.Context, phone, idNumber string) (model.SellerProfile, error)
	IsSellerRegistered(ctx context.Context, phone, idNumber string) (bool, error)

	CreateRequest(ctx context.Context, req NewRequest) (model.TransactionRequest, error)
	GetRequest(ctx context.Context, id string) (model.TransactionRequest, error)

	ApproveRequest(ctx context.Context, id string) error
	RejectRequest(ctx context.Context, id string) error
	SetAgreedPrice(ctx context.Context, id string, price int) error
	ConfirmPrice(ctx context.Context, id string) error
	MarkPaymentComplete(ctx context.Context, id string) error
	MarkTransferComplete(ctx context.Context, id string) error

	SubscribeToRequest(id string, fn func(*model.TransactionRequest)) Unsubscribe
	SubscribeToSellerRequests(phone, idNumber string, fn func([]model.TransactionRequest)) Unsubscribe
}

// deliveryGuard serializes deliveries for one subscription and drops any
// delivery attempted after close. Closing waits for an in-flight delivery,
// which gives Unsubscribe its no-callback-after-return guarantee.
type deliveryGuard struct {
	mu     sync.Mutex
	closed bool
}

func (g *deliveryGuard) deliver(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	fn()
}

func (g *deliveryGuard) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
