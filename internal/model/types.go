package model

import (
	"fmt"
	"time"
)

// RequestStatus is the lifecycle tag of a TransactionRequest. It moves
// forward along pending -> approved -> price_set -> price_confirmed ->
// paid -> completed, with rejected as the only alternate terminal state,
// reachable from pending only.
type RequestStatus string

const (
	StatusPending        RequestStatus = "pending"
	StatusApproved       RequestStatus = "approved"
	StatusRejected       RequestStatus = "rejected"
	StatusPriceSet       RequestStatus = "price_set"
	StatusPriceConfirmed RequestStatus = "price_confirmed"
	StatusPaid           RequestStatus = "paid"
	StatusCompleted      RequestStatus = "completed"
)

var statusRank = map[RequestStatus]int{
	StatusPending:        0,
	StatusApproved:       1,
	StatusPriceSet:       2,
	StatusPriceConfirmed: 3,
	StatusPaid:           4,
	StatusCompleted:      5,
}

// Valid reports whether s is one of the known status values.
func (s RequestStatus) Valid() bool {
	if s == StatusRejected {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of s on the happy path. Rejected has no rank
// and returns -1.
func (s RequestStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions are possible from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// AllowedAfter reports whether observing s after prev is a legal forward
// move. Equal statuses are allowed (duplicate delivery), regressions and
// rejections of non-pending requests are not.
func AllowedAfter(prev, s RequestStatus) bool {
	if s == prev {
		return true
	}
	if s == StatusRejected {
		return prev == StatusPending
	}
	if prev == StatusRejected {
		return false
	}
	return s.Rank() >= prev.Rank()
}

// VehicleDetails is the immutable vehicle snapshot taken at request creation.
type VehicleDetails struct {
	Plate string `json:"plate"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
	Trim  string `json:"trim"`
}

// PriceBand is the market estimate snapshot taken at request creation.
type PriceBand struct {
	MinPrice int `json:"min_price"`
	MaxPrice int `json:"max_price"`
	AvgPrice int `json:"avg_price"`
}

// SellerProfile identifies a registered seller by the (phone, id number)
// composite key. Re-registration overwrites the prior profile.
type SellerProfile struct {
	Phone        string    `json:"phone"`
	IDNumber     string    `json:"id_number"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SellerKey returns the composite storage key for a seller profile.
func SellerKey(phone, idNumber string) string {
	return fmt.Sprintf("%s_%s", phone, idNumber)
}

// TransactionRequest is the negotiation record shared between one buyer and
// one seller. The buyer's session writes creation, price confirmation and
// payment fields; the seller's session writes approval, price and transfer
// fields. The store is the single source of truth.
type TransactionRequest struct {
	ID               string         `json:"id"`
	BuyerPhone       string         `json:"buyer_phone"`
	BuyerName        string         `json:"buyer_name"`
	SellerPhone      string         `json:"seller_phone"`
	SellerIDNumber   string         `json:"seller_id_number"`
	Vehicle          VehicleDetails `json:"vehicle"`
	Pricing          PriceBand      `json:"pricing"`
	OwnerCount       int            `json:"owner_count"`
	Mileage          int            `json:"mileage"`
	Status           RequestStatus  `json:"status"`
	AgreedPrice      *int           `json:"agreed_price"`
	PaymentComplete  bool           `json:"payment_complete"`
	TransferComplete bool           `json:"transfer_complete"`
	CreatedAt        time.Time      `json:"created_at"`
}
