package handlers

import (
	"errors"
	"net/http"

	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/middleware"
	"github.com/moneybridge/server/internal/model"
)

// SellerHandler serves the seller branch of the wizard.
type SellerHandler struct {
	otp auth.OtpProvider
}

func NewSellerHandler(otp auth.OtpProvider) *SellerHandler {
	return &SellerHandler{otp: otp}
}

// RequestOTP sends a verification code to the seller's phone.
func (h *SellerHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validPhone(req.Phone) {
		respondWithError(w, http.StatusBadRequest, "phone must be at least 10 digits")
		return
	}
	if err := h.otp.RequestOTP(r.Context(), req.Phone); err != nil {
		if errors.Is(err, auth.ErrTooManyRequests) {
			respondWithError(w, http.StatusTooManyRequests, "too many verification requests")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to send verification code")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "code_sent"})
}

// Register verifies the OTP code and registers the seller identity.
func (h *SellerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		IDNumber string `json:"id_number"`
		Code     string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validPhone(req.Phone) {
		respondWithError(w, http.StatusBadRequest, "phone must be at least 10 digits")
		return
	}
	if !validIDNumber(req.IDNumber) {
		respondWithError(w, http.StatusBadRequest, "id_number must be exactly 9 digits")
		return
	}
	if err := h.otp.VerifyOTP(r.Context(), req.Phone, req.Code); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid verification code")
		return
	}

	machine := middleware.GetMachine(r.Context())
	if err := machine.RegisterSeller(r.Context(), req.Phone, req.IDNumber); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// Requests lists the purchase requests addressed to this seller, newest
// last. Only pending ones are actionable.
func (h *SellerHandler) Requests(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	state := machine.Snapshot()

	pending := make([]model.TransactionRequest, 0, len(state.PendingRequests))
	for _, req := range state.PendingRequests {
		if req.Status == model.StatusPending {
			pending = append(pending, req)
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"requests": pending,
		"state":    state,
	})
}

// Approve accepts one pending request and moves to price setting.
func (h *SellerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	machine := middleware.GetMachine(r.Context())
	if err := machine.ApproveRequest(r.Context(), req.RequestID); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// Reject declines a pending request; the seller stays on the list.
func (h *SellerHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	machine := middleware.GetMachine(r.Context())
	if err := machine.RejectRequest(r.Context(), req.RequestID); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// SetPrice writes the agreed price. A price outside the estimate band is
// flagged in the response but never blocked.
func (h *SellerHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price int `json:"price"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	machine := middleware.GetMachine(r.Context())
	if err := machine.SetPrice(r.Context(), req.Price); err != nil {
		respondWithFlowError(w, err)
		return
	}

	state := machine.Snapshot()
	outsideBand := false
	if state.Pricing != nil {
		outsideBand = req.Price < state.Pricing.MinPrice || req.Price > state.Pricing.MaxPrice
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"outside_band": outsideBand,
		"state":        state,
	})
}

// VerifyTransfer starts the simulated ownership-transfer verification.
func (h *SellerHandler) VerifyTransfer(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if err := machine.VerifyTransfer(r.Context()); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}
