package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moneybridge/server/internal/model"
)

// MemoryStore is the in-process Store implementation used by tests and
// DEV_MODE. It is constructed explicitly and injected, never a package
// global, so every test can run against an isolated instance.
type MemoryStore struct {
	mu          sync.Mutex
	sellers     map[string]model.SellerProfile
	requests    map[string]model.TransactionRequest
	byClientKey map[string]string
	reqSubs     map[string]map[int]*requestSub
	sellerSubs  map[string]map[int]*sellerRequestsSub
	nextSubID   int
}

type requestSub struct {
	g  deliveryGuard
	fn func(*model.TransactionRequest)
}

type sellerRequestsSub struct {
	g        deliveryGuard
	idNumber string
	fn       func([]model.TransactionRequest)
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sellers:     make(map[string]model.SellerProfile),
		requests:    make(map[string]model.TransactionRequest),
		byClientKey: make(map[string]string),
		reqSubs:     make(map[string]map[int]*requestSub),
		sellerSubs:  make(map[string]map[int]*sellerRequestsSub),
	}
}

func (s *MemoryStore) RegisterSeller(ctx context.Context, phone, idNumber string) (model.SellerProfile, error) {
	profile := model.SellerProfile{Phone: phone, IDNumber: idNumber, RegisteredAt: time.Now()}
	s.mu.Lock()
	s.sellers[model.SellerKey(phone, idNumber)] = profile
	s.mu.Unlock()
	return profile, nil
}

func (s *MemoryStore) IsSellerRegistered(ctx context.Context, phone, idNumber string) (bool, error) {
	s.mu.Lock()
	_, ok := s.sellers[model.SellerKey(phone, idNumber)]
	s.mu.Unlock()
	return ok, nil
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req NewRequest) (model.TransactionRequest, error) {
	s.mu.Lock()
	if id, ok := s.byClientKey[req.ClientKey]; ok && req.ClientKey != "" {
		existing := cloneRequest(s.requests[id])
		s.mu.Unlock()
		return existing, nil
	}
	record := model.TransactionRequest{
		ID:             uuid.NewString(),
		BuyerPhone:     req.BuyerPhone,
		BuyerName:      req.BuyerName,
		SellerPhone:    req.SellerPhone,
		SellerIDNumber: req.SellerIDNumber,
		Vehicle:        req.Vehicle,
		Pricing:        req.Pricing,
		OwnerCount:     req.OwnerCount,
		Mileage:        req.Mileage,
		Status:         model.StatusPending,
		CreatedAt:      time.Now(),
	}
	s.requests[record.ID] = record
	if req.ClientKey != "" {
		s.byClientKey[req.ClientKey] = record.ID
	}
	deliveries := s.collectDeliveriesLocked(record)
	out := cloneRequest(record)
	s.mu.Unlock()

	for _, d := range deliveries {
		d()
	}
	return out, nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (model.TransactionRequest, error) {
	s.mu.Lock()
	record, ok := s.requests[id]
	s.mu.Unlock()
	if !ok {
		return model.TransactionRequest{}, ErrNotFound
	}
	return cloneRequest(record), nil
}

func (s *MemoryStore) ApproveRequest(ctx context.Context, id string) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		if r.Status != model.StatusPending {
			return ErrConflict
		}
		r.Status = model.StatusApproved
		return nil
	})
}

func (s *MemoryStore) RejectRequest(ctx context.Context, id string) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		if r.Status != model.StatusPending {
			return ErrConflict
		}
		r.Status = model.StatusRejected
		return nil
	})
}

func (s *MemoryStore) SetAgreedPrice(ctx context.Context, id string, price int) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		p := price
		r.AgreedPrice = &p
		r.Status = model.StatusPriceSet
		return nil
	})
}

func (s *MemoryStore) ConfirmPrice(ctx context.Context, id string) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		r.Status = model.StatusPriceConfirmed
		return nil
	})
}

func (s *MemoryStore) MarkPaymentComplete(ctx context.Context, id string) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		r.PaymentComplete = true
		r.Status = model.StatusPaid
		return nil
	})
}

func (s *MemoryStore) MarkTransferComplete(ctx context.Context, id string) error {
	return s.update(id, func(r *model.TransactionRequest) error {
		r.TransferComplete = true
		r.Status = model.StatusCompleted
		return nil
	})
}

// update applies one mutation atomically and fans the new snapshot out to
// matching subscribers after the lock is released.
func (s *MemoryStore) update(id string, mutate func(*model.TransactionRequest) error) error {
	s.mu.Lock()
	record, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err := mutate(&record); err != nil {
		s.mu.Unlock()
		return err
	}
	s.requests[id] = record
	deliveries := s.collectDeliveriesLocked(record)
	s.mu.Unlock()

	for _, d := range deliveries {
		d()
	}
	return nil
}

// collectDeliveriesLocked snapshots the record and the seller list views for
// every subscriber interested in the changed record. Callers invoke the
// returned closures outside the store lock.
func (s *MemoryStore) collectDeliveriesLocked(record model.TransactionRequest) []func() {
	var deliveries []func()
	snapshot := cloneRequest(record)
	for _, sub := range s.reqSubs[record.ID] {
		sub := sub
		deliveries = append(deliveries, func() {
			sub.g.deliver(func() { sub.fn(&snapshot) })
		})
	}
	for _, sub := range s.sellerSubs[record.SellerPhone] {
		sub := sub
		list := s.sellerRequestsLocked(record.SellerPhone, sub.idNumber)
		deliveries = append(deliveries, func() {
			sub.g.deliver(func() { sub.fn(list) })
		})
	}
	return deliveries
}

// sellerRequestsLocked filters by phone and id number and orders by creation
// time. The id-number filter happens here, consumer-side of the phone index,
// matching the store contract.
func (s *MemoryStore) sellerRequestsLocked(phone, idNumber string) []model.TransactionRequest {
	var list []model.TransactionRequest
	for _, r := range s.requests {
		if r.SellerPhone == phone && r.SellerIDNumber == idNumber {
			list = append(list, cloneRequest(r))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

func (s *MemoryStore) SubscribeToRequest(id string, fn func(*model.TransactionRequest)) Unsubscribe {
	sub := &requestSub{fn: fn}
	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID
	if s.reqSubs[id] == nil {
		s.reqSubs[id] = make(map[int]*requestSub)
	}
	s.reqSubs[id][subID] = sub
	record, exists := s.requests[id]
	snapshot := cloneRequest(record)
	s.mu.Unlock()

	if exists {
		sub.g.deliver(func() { fn(&snapshot) })
	} else {
		sub.g.deliver(func() { fn(nil) })
	}

	return func() {
		s.mu.Lock()
		delete(s.reqSubs[id], subID)
		s.mu.Unlock()
		sub.g.close()
	}
}

func (s *MemoryStore) SubscribeToSellerRequests(phone, idNumber string, fn func([]model.TransactionRequest)) Unsubscribe {
	sub := &sellerRequestsSub{idNumber: idNumber, fn: fn}
	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID
	if s.sellerSubs[phone] == nil {
		s.sellerSubs[phone] = make(map[int]*sellerRequestsSub)
	}
	s.sellerSubs[phone][subID] = sub
	list := s.sellerRequestsLocked(phone, idNumber)
	s.mu.Unlock()

	sub.g.deliver(func() { fn(list) })

	return func() {
		s.mu.Lock()
		delete(s.sellerSubs[phone], subID)
		s.mu.Unlock()
		sub.g.close()
	}
}

func cloneRequest(r model.TransactionRequest) model.TransactionRequest {
	out := r
	if r.AgreedPrice != nil {
		p := *r.AgreedPrice
		out.AgreedPrice = &p
	}
	return out
}
