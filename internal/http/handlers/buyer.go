package handlers

import (
	"net/http"

	"github.com/moneybridge/server/internal/bank"
	"github.com/moneybridge/server/internal/middleware"
)

// BuyerHandler serves the buyer branch of the wizard.
type BuyerHandler struct{}

func NewBuyerHandler() *BuyerHandler {
	return &BuyerHandler{}
}

// LookupVehicle resolves a plate into vehicle details and a price estimate.
func (h *BuyerHandler) LookupVehicle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plate      string `json:"plate"`
		OwnerCount int    `json:"owner_count"`
		Mileage    int    `json:"mileage"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OwnerCount < 1 {
		respondWithError(w, http.StatusBadRequest, "owner_count must be at least 1")
		return
	}
	if req.Mileage < 0 {
		respondWithError(w, http.StatusBadRequest, "mileage cannot be negative")
		return
	}

	machine := middleware.GetMachine(r.Context())
	vehicleDetails, band, err := machine.LookupVehicle(r.Context(), req.Plate, req.OwnerCount, req.Mileage)
	if err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"vehicle": vehicleDetails,
		"pricing": band,
		"state":   machine.Snapshot(),
	})
}

// SubmitRequest links the buyer to a seller and creates the shared
// transaction request.
func (h *BuyerHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuyerPhone     string `json:"buyer_phone"`
		BuyerName      string `json:"buyer_name"`
		SellerPhone    string `json:"seller_phone"`
		SellerIDNumber string `json:"seller_id_number"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validPhone(req.BuyerPhone) {
		respondWithError(w, http.StatusBadRequest, "buyer_phone must be at least 10 digits")
		return
	}
	if !validPhone(req.SellerPhone) {
		respondWithError(w, http.StatusBadRequest, "seller_phone must be at least 10 digits")
		return
	}
	if !validIDNumber(req.SellerIDNumber) {
		respondWithError(w, http.StatusBadRequest, "seller_id_number must be exactly 9 digits")
		return
	}

	machine := middleware.GetMachine(r.Context())
	if err := machine.SubmitSellerLink(r.Context(), req.BuyerPhone, req.BuyerName, req.SellerPhone, req.SellerIDNumber); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// ConfirmPrice accepts the seller's agreed price.
func (h *BuyerHandler) ConfirmPrice(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if err := machine.ConfirmPrice(r.Context()); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// Banks lists the supported banks.
func (h *BuyerHandler) Banks(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"banks": bank.Banks()})
}

// SubmitBank records the buyer's bank account and returns the escrow
// account, the service fee disclosure and the financing and insurance
// offers for the agreed price.
func (h *BuyerHandler) SubmitBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankID        string `json:"bank_id"`
		Branch        string `json:"branch"`
		AccountNumber string `json:"account_number"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := bank.Find(req.BankID); err != nil {
		respondWithError(w, http.StatusBadRequest, "unknown bank")
		return
	}
	if len(req.Branch) < 2 {
		respondWithError(w, http.StatusBadRequest, "branch must be at least 2 characters")
		return
	}
	if len(req.AccountNumber) < 6 {
		respondWithError(w, http.StatusBadRequest, "account_number must be at least 6 characters")
		return
	}

	machine := middleware.GetMachine(r.Context())
	if err := machine.SubmitBankDetails(r.Context(), req.BankID, req.Branch, req.AccountNumber); err != nil {
		respondWithFlowError(w, err)
		return
	}
	escrow, _ := bank.Escrow(req.BankID)
	state := machine.Snapshot()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"escrow":           escrow,
		"service_fee":      bank.ServiceFee(state.Price),
		"total_due":        bank.TotalWithFee(state.Price),
		"financing_offers": bank.FinancingOffers(state.Price),
		"insurance_offers": bank.InsuranceOffers(),
		"state":            state,
	})
}

// ChooseFinancing picks a financing offer; an empty offer_id skips
// financing.
func (h *BuyerHandler) ChooseFinancing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OfferID string `json:"offer_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	machine := middleware.GetMachine(r.Context())
	if err := machine.ChooseFinancing(r.Context(), req.OfferID); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// ConfirmDeposit leaves the deposit screen ahead of the auto-advance timer.
func (h *BuyerHandler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if err := machine.ConfirmDeposit(r.Context()); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}

// RetryPayment re-runs the payment settlement after a failed write.
func (h *BuyerHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	machine := middleware.GetMachine(r.Context())
	if err := machine.ResolvePayment(r.Context()); err != nil {
		respondWithFlowError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, machine.Snapshot())
}
