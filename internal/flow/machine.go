// Package flow owns one participant's position in the sale wizard and
// mediates between caller actions and the shared record store. User-driven
// and push-driven transitions go through the same guarded entry points, so
// a write initiated by the participant and a notification arriving from the
// counterpart can interleave without corrupting the step.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moneybridge/server/internal/audit"
	"github.com/moneybridge/server/internal/model"
	"github.com/moneybridge/server/internal/pricing"
	"github.com/moneybridge/server/internal/store"
	"github.com/moneybridge/server/internal/vehicle"
)

// Step is the participant's current screen in the wizard.
type Step string

const (
	StepRoleSelect              Step = "ROLE_SELECT"
	StepBuyerVehicleLookup      Step = "BUYER_VEHICLE_LOOKUP"
	StepBuyerEnterSeller        Step = "BUYER_ENTER_SELLER"
	StepBuyerWaitingApproval    Step = "BUYER_WAITING_APPROVAL"
	StepBuyerConfirmPrice       Step = "BUYER_CONFIRM_PRICE"
	StepBuyerBankDetails        Step = "BUYER_BANK_DETAILS"
	StepBuyerFinancing          Step = "BUYER_FINANCING"
	StepBuyerDeposit            Step = "BUYER_DEPOSIT"
	StepBuyerPayment            Step = "BUYER_PAYMENT"
	StepBuyerWaitingTransfer    Step = "BUYER_WAITING_TRANSFER"
	StepSellerRegister          Step = "SELLER_REGISTER"
	StepSellerPendingRequests   Step = "SELLER_PENDING_REQUESTS"
	StepSellerSetPrice          Step = "SELLER_SET_PRICE"
	StepSellerWaitingPayment    Step = "SELLER_WAITING_PAYMENT"
	StepSellerOwnershipTransfer Step = "SELLER_OWNERSHIP_TRANSFER"
	StepComplete                Step = "COMPLETE"
)

// Role is the participant's side of the sale.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// MinAgreedPrice is the lowest price a seller may set. There is no upper
// bound against the estimate band; out-of-band prices are flagged, not
// blocked.
const MinAgreedPrice = 1000

var (
	// ErrInvalidStep is returned when an action does not apply to the
	// machine's current step.
	ErrInvalidStep = errors.New("action not valid in the current step")
	// ErrInvalidInput is returned for input that fails format validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPriceNotSet is returned when the buyer confirms before the seller
	// has set an agreed price.
	ErrPriceNotSet = errors.New("agreed price has not been set")
)

// Timings are the simulated-delay knobs. Tests shrink them to keep runs fast.
type Timings struct {
	DepositAutoAdvance   time.Duration
	PaymentSimulation    time.Duration
	TransferVerification time.Duration
}

// DefaultTimings mirrors the production wizard: the deposit screen advances
// by itself after 25s, the payment simulation takes 20s, the ownership
// transfer check resolves in 2s.
func DefaultTimings() Timings {
	return Timings{
		DepositAutoAdvance:   25 * time.Second,
		PaymentSimulation:    20 * time.Second,
		TransferVerification: 2 * time.Second,
	}
}

// signal identifies a remote push that may advance the step at most once per
// subscription lifetime.
type signal string

const (
	signalApproved         signal = "approved"
	signalPriceSet         signal = "price_set"
	signalPaymentComplete  signal = "payment_complete"
	signalTransferComplete signal = "transfer_complete"
)

// State is the read-only snapshot handed to callers. It is a read-through
// cache of the shared record plus local wizard position; the store stays
// authoritative for every shared field.
type State struct {
	Step                      Step                       `json:"step"`
	Role                      Role                       `json:"role,omitempty"`
	Vehicle                   *model.VehicleDetails      `json:"vehicle"`
	Pricing                   *model.PriceBand           `json:"pricing"`
	OwnerCount                int                        `json:"owner_count"`
	Mileage                   int                        `json:"mileage"`
	Price                     int                        `json:"price"`
	BuyerPhone                string                     `json:"buyer_phone,omitempty"`
	BuyerName                 string                     `json:"buyer_name,omitempty"`
	SellerPhone               string                     `json:"seller_phone,omitempty"`
	SellerIDNumber            string                     `json:"seller_id_number,omitempty"`
	CurrentRequestID          string                     `json:"current_request_id,omitempty"`
	ApprovedRequest           *model.TransactionRequest  `json:"approved_request"`
	BankID                    string                     `json:"bank_id,omitempty"`
	BankBranch                string                     `json:"bank_branch,omitempty"`
	BankAccountNumber         string                     `json:"bank_account_number,omitempty"`
	FinancingID               string                     `json:"financing_id,omitempty"`
	RequestRejected           bool                       `json:"request_rejected,omitempty"`
	PaymentVerified           bool                       `json:"payment_verified"`
	OwnershipTransferVerified bool                       `json:"ownership_transfer_verified"`
	PendingRequests           []model.TransactionRequest `json:"pending_requests,omitempty"`
}

// Machine runs the wizard for one participant session.
type Machine struct {
	store    store.Store
	recorder audit.Recorder
	timings  Timings

	mu            sync.Mutex
	state         State
	epoch         int
	clientKey     string
	lastStatus    model.RequestStatus
	latches       map[signal]bool
	unsubRequest  store.Unsubscribe
	unsubSeller   store.Unsubscribe
	depositTimer  *time.Timer
	paymentTimer  *time.Timer
	transferTimer *time.Timer
}

// NewMachine builds a machine at role selection.
func NewMachine(s store.Store, recorder audit.Recorder, timings Timings) *Machine {
	return &Machine{
		store:    s,
		recorder: recorder,
		timings:  timings,
		state:    State{Step: StepRoleSelect},
		latches:  make(map[signal]bool),
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	if m.state.Vehicle != nil {
		v := *m.state.Vehicle
		out.Vehicle = &v
	}
	if m.state.Pricing != nil {
		p := *m.state.Pricing
		out.Pricing = &p
	}
	if m.state.ApprovedRequest != nil {
		r := cloneRequest(*m.state.ApprovedRequest)
		out.ApprovedRequest = &r
	}
	out.PendingRequests = append([]model.TransactionRequest(nil), m.state.PendingRequests...)
	return out
}

// ChooseRole forks the wizard into the buyer or seller branch.
func (m *Machine) ChooseRole(ctx context.Context, role Role) error {
	if role != RoleBuyer && role != RoleSeller {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	m.mu.Lock()
	if m.state.Step != StepRoleSelect {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	m.state.Role = role
	if role == RoleBuyer {
		m.state.Step = StepBuyerVehicleLookup
	} else {
		m.state.Step = StepSellerRegister
	}
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{Action: audit.ActionRoleSelected, Role: string(role)})
	return nil
}

// LookupVehicle resolves the plate, computes the estimate band and advances
// to the seller-link screen.
func (m *Machine) LookupVehicle(ctx context.Context, plate string, ownerCount, mileage int) (model.VehicleDetails, model.PriceBand, error) {
	m.mu.Lock()
	if m.state.Step != StepBuyerVehicleLookup {
		m.mu.Unlock()
		return model.VehicleDetails{}, model.PriceBand{}, ErrInvalidStep
	}
	m.mu.Unlock()

	v, err := vehicle.Lookup(plate)
	if err != nil {
		return model.VehicleDetails{}, model.PriceBand{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	band := pricing.Estimate(v, ownerCount, mileage)

	m.mu.Lock()
	if m.state.Step != StepBuyerVehicleLookup {
		m.mu.Unlock()
		return model.VehicleDetails{}, model.PriceBand{}, ErrInvalidStep
	}
	m.state.Vehicle = &v
	m.state.Pricing = &band
	m.state.OwnerCount = ownerCount
	m.state.Mileage = mileage
	m.state.Price = band.AvgPrice
	m.state.Step = StepBuyerEnterSeller
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{
		Action:  audit.ActionVehicleLookup,
		Role:    string(RoleBuyer),
		Details: map[string]string{"plate": v.Plate},
	})
	return v, band, nil
}

// SubmitSellerLink creates the shared request and moves the buyer into the
// approval wait. A transient store failure leaves the step unchanged, and
// the idempotency key makes resubmission safe.
func (m *Machine) SubmitSellerLink(ctx context.Context, buyerPhone, buyerName, sellerPhone, sellerIDNumber string) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerEnterSeller {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	if m.clientKey == "" {
		m.clientKey = uuid.NewString()
	}
	req := store.NewRequest{
		ClientKey:      m.clientKey,
		BuyerPhone:     buyerPhone,
		BuyerName:      buyerName,
		SellerPhone:    sellerPhone,
		SellerIDNumber: sellerIDNumber,
		Vehicle:        *m.state.Vehicle,
		Pricing:        *m.state.Pricing,
		OwnerCount:     m.state.OwnerCount,
		Mileage:        m.state.Mileage,
	}
	m.mu.Unlock()

	created, err := m.store.CreateRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepBuyerEnterSeller {
		m.mu.Unlock()
		return nil
	}
	m.state.BuyerPhone = buyerPhone
	m.state.BuyerName = buyerName
	m.state.SellerPhone = sellerPhone
	m.state.SellerIDNumber = sellerIDNumber
	m.state.CurrentRequestID = created.ID
	m.lastStatus = created.Status
	m.state.Step = StepBuyerWaitingApproval
	m.mu.Unlock()

	m.subscribeRequest(created.ID)
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionRequestCreated,
		Role:      string(RoleBuyer),
		PhoneHash: audit.HashPhone(buyerPhone),
		RequestID: created.ID,
	})
	return nil
}

// ConfirmPrice accepts the seller's agreed price. It refuses to run until a
// price is actually present, so a confirmed request can never carry a null
// agreed price.
func (m *Machine) ConfirmPrice(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerConfirmPrice {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	current := m.state.ApprovedRequest
	if current == nil || current.AgreedPrice == nil {
		m.mu.Unlock()
		return ErrPriceNotSet
	}
	id := current.ID
	agreed := *current.AgreedPrice
	m.mu.Unlock()

	if err := m.store.ConfirmPrice(ctx, id); err != nil {
		return fmt.Errorf("confirm price: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepBuyerConfirmPrice {
		m.mu.Unlock()
		return nil
	}
	m.state.Price = agreed
	m.state.Step = StepBuyerBankDetails
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionPriceConfirmed,
		Role:      string(RoleBuyer),
		RequestID: id,
	})
	return nil
}

// SubmitBankDetails records the buyer's bank account and moves on to the
// financing offers.
func (m *Machine) SubmitBankDetails(ctx context.Context, bankID, branch, accountNumber string) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerBankDetails {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	m.state.BankID = bankID
	m.state.BankBranch = branch
	m.state.BankAccountNumber = accountNumber
	m.state.Step = StepBuyerFinancing
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionBankDetailsSubmitted,
		Role:      string(RoleBuyer),
		RequestID: m.Snapshot().CurrentRequestID,
	})
	return nil
}

// ChooseFinancing picks an offer (or skips with an empty id) and enters the
// deposit screen, arming the auto-advance timer.
func (m *Machine) ChooseFinancing(ctx context.Context, offerID string) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerFinancing {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	m.state.FinancingID = offerID
	m.state.Step = StepBuyerDeposit
	m.depositTimer = time.AfterFunc(m.timings.DepositAutoAdvance, func() {
		if err := m.ConfirmDeposit(context.Background()); err != nil && !errors.Is(err, ErrInvalidStep) {
			log.Printf("flow: deposit auto-advance: %v", err)
		}
	})
	m.mu.Unlock()
	return nil
}

// ConfirmDeposit leaves the deposit screen (user click or timer) and starts
// the simulated payment.
func (m *Machine) ConfirmDeposit(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerDeposit {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	stopTimer(&m.depositTimer)
	m.state.Step = StepBuyerPayment
	m.paymentTimer = time.AfterFunc(m.timings.PaymentSimulation, func() {
		if err := m.ResolvePayment(context.Background()); err != nil && !errors.Is(err, ErrInvalidStep) {
			log.Printf("flow: payment simulation: %v", err)
		}
	})
	m.mu.Unlock()
	return nil
}

// ResolvePayment settles the simulated payment: it marks the shared record
// paid and moves the buyer into the transfer wait. Invoked by the payment
// timer, or directly as a retry when the write failed.
func (m *Machine) ResolvePayment(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step != StepBuyerPayment {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	stopTimer(&m.paymentTimer)
	id := m.state.CurrentRequestID
	m.mu.Unlock()

	if err := m.store.MarkPaymentComplete(ctx, id); err != nil {
		return fmt.Errorf("mark payment complete: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepBuyerPayment {
		m.mu.Unlock()
		return nil
	}
	m.state.PaymentVerified = true
	m.state.Step = StepBuyerWaitingTransfer
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionPaymentCompleted,
		Role:      string(RoleBuyer),
		RequestID: id,
	})
	return nil
}

// RegisterSeller upserts the seller profile and enters the pending-requests
// screen, subscribing to requests addressed to this seller.
func (m *Machine) RegisterSeller(ctx context.Context, phone, idNumber string) error {
	m.mu.Lock()
	if m.state.Step != StepSellerRegister {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	m.mu.Unlock()

	if _, err := m.store.RegisterSeller(ctx, phone, idNumber); err != nil {
		return fmt.Errorf("register seller: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepSellerRegister {
		m.mu.Unlock()
		return nil
	}
	m.state.SellerPhone = phone
	m.state.SellerIDNumber = idNumber
	m.state.Step = StepSellerPendingRequests
	m.mu.Unlock()

	m.subscribeSellerRequests(phone, idNumber)
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionSellerRegistered,
		Role:      string(RoleSeller),
		PhoneHash: audit.HashPhone(phone),
	})
	return nil
}

// ApproveRequest approves one pending request and moves to price setting.
// The seller-requests subscription is dropped on leaving the list screen
// and replaced by a subscription to the single active request.
func (m *Machine) ApproveRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	if m.state.Step != StepSellerPendingRequests {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	var target *model.TransactionRequest
	for i := range m.state.PendingRequests {
		if m.state.PendingRequests[i].ID == requestID {
			r := cloneRequest(m.state.PendingRequests[i])
			target = &r
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%w: unknown request %s", ErrInvalidInput, requestID)
	}

	if err := m.store.ApproveRequest(ctx, requestID); err != nil {
		return fmt.Errorf("approve request: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepSellerPendingRequests {
		m.mu.Unlock()
		return nil
	}
	target.Status = model.StatusApproved
	m.state.CurrentRequestID = requestID
	m.state.ApprovedRequest = target
	m.state.Vehicle = &target.Vehicle
	m.state.Pricing = &target.Pricing
	m.state.OwnerCount = target.OwnerCount
	m.state.Mileage = target.Mileage
	m.lastStatus = model.StatusApproved
	m.state.Step = StepSellerSetPrice
	unsubSeller := m.unsubSeller
	m.unsubSeller = nil
	m.mu.Unlock()

	if unsubSeller != nil {
		unsubSeller()
	}
	m.subscribeRequest(requestID)
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionRequestApproved,
		Role:      string(RoleSeller),
		RequestID: requestID,
	})
	return nil
}

// RejectRequest rejects a pending request; the seller stays on the list.
func (m *Machine) RejectRequest(ctx context.Context, requestID string) error {
	m.mu.Lock()
	if m.state.Step != StepSellerPendingRequests {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	m.mu.Unlock()

	if err := m.store.RejectRequest(ctx, requestID); err != nil {
		return fmt.Errorf("reject request: %w", err)
	}
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionRequestRejected,
		Role:      string(RoleSeller),
		RequestID: requestID,
	})
	return nil
}

// SetPrice writes the agreed price and enters the payment wait. The price
// must be at least MinAgreedPrice; the estimate band is advisory only.
func (m *Machine) SetPrice(ctx context.Context, price int) error {
	if price < MinAgreedPrice {
		return fmt.Errorf("%w: price must be at least %d", ErrInvalidInput, MinAgreedPrice)
	}
	m.mu.Lock()
	if m.state.Step != StepSellerSetPrice {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	id := m.state.CurrentRequestID
	m.mu.Unlock()

	if err := m.store.SetAgreedPrice(ctx, id, price); err != nil {
		return fmt.Errorf("set agreed price: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepSellerSetPrice {
		m.mu.Unlock()
		return nil
	}
	if m.state.ApprovedRequest != nil {
		p := price
		m.state.ApprovedRequest.AgreedPrice = &p
		m.state.ApprovedRequest.Status = model.StatusPriceSet
	}
	m.state.Price = price
	if model.AllowedAfter(m.lastStatus, model.StatusPriceSet) {
		m.lastStatus = model.StatusPriceSet
	}
	m.state.Step = StepSellerWaitingPayment
	m.mu.Unlock()

	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionPriceSet,
		Role:      string(RoleSeller),
		RequestID: id,
		Details:   map[string]string{"price": fmt.Sprintf("%d", price)},
	})
	return nil
}

// VerifyTransfer starts the simulated ownership-transfer verification. The
// machine completes once the verification timer resolves and the shared
// record is marked transferred.
func (m *Machine) VerifyTransfer(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step != StepSellerOwnershipTransfer {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	if m.transferTimer != nil {
		m.mu.Unlock()
		return nil // verification already running
	}
	m.transferTimer = time.AfterFunc(m.timings.TransferVerification, func() {
		if err := m.resolveTransfer(context.Background()); err != nil && !errors.Is(err, ErrInvalidStep) {
			log.Printf("flow: transfer verification: %v", err)
		}
	})
	m.mu.Unlock()
	return nil
}

func (m *Machine) resolveTransfer(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step != StepSellerOwnershipTransfer {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	id := m.state.CurrentRequestID
	m.mu.Unlock()

	if err := m.store.MarkTransferComplete(ctx, id); err != nil {
		// clear the timer handle so VerifyTransfer can retry
		m.mu.Lock()
		m.transferTimer = nil
		m.mu.Unlock()
		return fmt.Errorf("mark transfer complete: %w", err)
	}

	m.mu.Lock()
	if m.state.Step != StepSellerOwnershipTransfer {
		m.mu.Unlock()
		return nil
	}
	m.state.OwnershipTransferVerified = true
	m.state.Step = StepComplete
	unsub := m.unsubRequest
	m.unsubRequest = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionTransferCompleted,
		Role:      string(RoleSeller),
		RequestID: id,
	})
	return nil
}

// Cancel aborts the wizard from any intermediate step. The remote record is
// left as-is; only local state is discarded.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Step == StepRoleSelect || m.state.Step == StepComplete {
		m.mu.Unlock()
		return ErrInvalidStep
	}
	role := m.state.Role
	requestID := m.state.CurrentRequestID
	unsubs := m.teardownLocked()
	m.mu.Unlock()

	runUnsubs(unsubs)
	m.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionTransactionCancelled,
		Role:      string(role),
		RequestID: requestID,
	})
	return nil
}

// Reset returns to role selection from any step, discarding local state and
// orphaning the remote record.
func (m *Machine) Reset() {
	m.mu.Lock()
	unsubs := m.teardownLocked()
	m.mu.Unlock()
	runUnsubs(unsubs)
}

// teardownLocked stops timers, clears latches and state, and hands back the
// active unsubscribes. Callers must invoke them after releasing the machine
// lock: closing a subscription waits for an in-flight delivery, and that
// delivery may be blocked on this lock. Bumping the epoch invalidates any
// subscription still being set up concurrently, and its deliveries.
func (m *Machine) teardownLocked() []store.Unsubscribe {
	m.epoch++
	stopTimer(&m.depositTimer)
	stopTimer(&m.paymentTimer)
	stopTimer(&m.transferTimer)
	unsubs := []store.Unsubscribe{m.unsubRequest, m.unsubSeller}
	m.unsubRequest = nil
	m.unsubSeller = nil
	m.latches = make(map[signal]bool)
	m.clientKey = ""
	m.lastStatus = ""
	m.state = State{Step: StepRoleSelect}
	return unsubs
}

func runUnsubs(unsubs []store.Unsubscribe) {
	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// subscribeRequest replaces the active request subscription and resets the
// push latches, which only a resubscribe may do. The subscription is pinned
// to the current epoch: if a teardown lands while the store call is in
// flight, the fresh subscription is dropped instead of stored, and any
// delivery it already made is rejected by the epoch check in the callback.
func (m *Machine) subscribeRequest(id string) {
	m.mu.Lock()
	epoch := m.epoch
	old := m.unsubRequest
	m.unsubRequest = nil
	m.latches = make(map[signal]bool)
	m.mu.Unlock()
	if old != nil {
		old()
	}

	unsub := m.store.SubscribeToRequest(id, func(r *model.TransactionRequest) {
		m.onRequestUpdate(epoch, r)
	})
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		unsub()
		return
	}
	m.unsubRequest = unsub
	m.mu.Unlock()
}

func (m *Machine) subscribeSellerRequests(phone, idNumber string) {
	m.mu.Lock()
	epoch := m.epoch
	old := m.unsubSeller
	m.unsubSeller = nil
	m.mu.Unlock()
	if old != nil {
		old()
	}

	unsub := m.store.SubscribeToSellerRequests(phone, idNumber, func(list []model.TransactionRequest) {
		m.onSellerRequests(epoch, list)
	})
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		unsub()
		return
	}
	m.unsubSeller = unsub
	m.mu.Unlock()
}

// onRequestUpdate applies a pushed snapshot of the active request. Duplicate
// deliveries are absorbed by the latches; a status regression is logged and
// ignored rather than applied. Collapsed intermediate states fast-forward:
// each latch condition is checked independently. A delivery whose epoch is
// stale belongs to a torn-down subscription and is dropped.
func (m *Machine) onRequestUpdate(epoch int, r *model.TransactionRequest) {
	if r == nil {
		return // record not visible yet
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		return
	}
	if m.lastStatus != "" && !model.AllowedAfter(m.lastStatus, r.Status) {
		log.Printf("flow: ignoring status regression %s -> %s on request %s", m.lastStatus, r.Status, r.ID)
		return
	}
	m.lastStatus = r.Status

	snapshot := cloneRequest(*r)
	m.state.ApprovedRequest = &snapshot
	if r.AgreedPrice != nil {
		m.state.Price = *r.AgreedPrice
	}

	switch m.state.Role {
	case RoleBuyer:
		if r.Status == model.StatusRejected && m.state.Step == StepBuyerWaitingApproval {
			m.state.RequestRejected = true
			return
		}
		if r.Status.Rank() >= model.StatusApproved.Rank() &&
			m.state.Step == StepBuyerWaitingApproval && !m.latches[signalApproved] {
			m.latches[signalApproved] = true
			m.state.Step = StepBuyerConfirmPrice
		}
		if r.Status.Rank() >= model.StatusPriceSet.Rank() && !m.latches[signalPriceSet] {
			m.latches[signalPriceSet] = true
		}
		if r.TransferComplete && m.state.Step == StepBuyerWaitingTransfer && !m.latches[signalTransferComplete] {
			m.latches[signalTransferComplete] = true
			m.state.OwnershipTransferVerified = true
			m.state.Step = StepComplete
			unsub := m.unsubRequest
			m.unsubRequest = nil
			if unsub != nil {
				// the subscription cannot tear itself down from inside
				// its own delivery
				go unsub()
			}
		}
	case RoleSeller:
		if r.PaymentComplete && m.state.Step == StepSellerWaitingPayment && !m.latches[signalPaymentComplete] {
			m.latches[signalPaymentComplete] = true
			m.state.Step = StepSellerOwnershipTransfer
		}
	}
}

// onSellerRequests refreshes the seller's view of requests addressed to them.
func (m *Machine) onSellerRequests(epoch int, list []model.TransactionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch {
		return
	}
	m.state.PendingRequests = list
}

func cloneRequest(r model.TransactionRequest) model.TransactionRequest {
	out := r
	if r.AgreedPrice != nil {
		p := *r.AgreedPrice
		out.AgreedPrice = &p
	}
	return out
}
