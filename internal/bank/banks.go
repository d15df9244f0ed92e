// Package bank carries the static banking data the flow presents to the
// buyer: the supported bank list, the escrow (trust) account per bank, and
// the financing and insurance offer tables.
package bank

import "errors"

// ErrUnknownBank is returned when a bank id is not in the supported list.
var ErrUnknownBank = errors.New("unknown bank")

// Bank is one of the supported Israeli banks.
type Bank struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// EscrowAccount is the simulated trust account the buyer deposits into.
// Same-bank transfers clear instantly, so the account is resolved per bank.
type EscrowAccount struct {
	BankName      string `json:"bank_name"`
	Branch        string `json:"branch"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// FinancingOffer is a monthly-payment quote derived from the vehicle price.
type FinancingOffer struct {
	ID                 string `json:"id"`
	Provider           string `json:"provider"`
	MonthlyPayment     int    `json:"monthly_payment"`
	TermMonths         int    `json:"term_months"`
	ApprovalLikelihood string `json:"approval_likelihood"`
}

// InsuranceOffer quotes compulsory and comprehensive annual premiums.
type InsuranceOffer struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	Compulsory    int    `json:"compulsory"`
	Comprehensive int    `json:"comprehensive"`
}

var banks = []Bank{
	{ID: "leumi", Name: "Leumi", Code: "10"},
	{ID: "hapoalim", Name: "Hapoalim", Code: "12"},
	{ID: "discount", Name: "Discount", Code: "11"},
	{ID: "mizrahi", Name: "Mizrahi Tefahot", Code: "20"},
	{ID: "yahav", Name: "Yahav", Code: "04"},
	{ID: "poagi", Name: "First International", Code: "31"},
}

// Banks returns the supported bank list.
func Banks() []Bank {
	out := make([]Bank, len(banks))
	copy(out, banks)
	return out
}

// Find returns the bank with the given id.
func Find(id string) (Bank, error) {
	for _, b := range banks {
		if b.ID == id {
			return b, nil
		}
	}
	return Bank{}, ErrUnknownBank
}

// Escrow returns the trust account held at the buyer's own bank.
func Escrow(bankID string) (EscrowAccount, error) {
	b, err := Find(bankID)
	if err != nil {
		return EscrowAccount{}, err
	}
	return EscrowAccount{
		BankName:      b.Name,
		Branch:        "800",
		AccountNumber: "88776655",
		AccountName:   "Money Bridge Trust Ltd.",
	}, nil
}

// Service fee: 0.5% of the vehicle price, clamped to [500, 5000] shekels.
// Disclosed to the buyer before the deposit together with the fee-inclusive
// total.
const (
	serviceFeeRate = 0.005
	minServiceFee  = 500
	maxServiceFee  = 5000
)

// ServiceFee returns the platform fee for a vehicle price.
func ServiceFee(price int) int {
	fee := int(float64(price)*serviceFeeRate + 0.5)
	if fee < minServiceFee {
		return minServiceFee
	}
	if fee > maxServiceFee {
		return maxServiceFee
	}
	return fee
}

// TotalWithFee returns the amount due including the service fee.
func TotalWithFee(price int) int {
	return price + ServiceFee(price)
}

// financing providers with their flat monthly rate on the vehicle price.
var financingRates = []struct {
	id, provider, likelihood string
	rate                     float64
}{
	{"direct", "Mimun Yashir", "high", 0.035},
	{"leumi_fin", "Leumi Finance", "medium", 0.0265},
	{"poalim_fin", "Poalim Credit", "medium", 0.0285},
	{"pepper", "Pepper Pay", "low", 0.0225},
}

// FinancingOffers quotes the four financing providers for a vehicle price.
func FinancingOffers(price int) []FinancingOffer {
	offers := make([]FinancingOffer, 0, len(financingRates))
	for _, p := range financingRates {
		offers = append(offers, FinancingOffer{
			ID:                 p.id,
			Provider:           p.provider,
			MonthlyPayment:     int(float64(price)*p.rate + 0.5),
			TermMonths:         36,
			ApprovalLikelihood: p.likelihood,
		})
	}
	return offers
}

// InsuranceOffers returns the fixed insurer quotes.
func InsuranceOffers() []InsuranceOffer {
	return []InsuranceOffer{
		{ID: "harel", Provider: "Harel", Compulsory: 1200, Comprehensive: 3500},
		{ID: "phoenix", Provider: "Phoenix", Compulsory: 1150, Comprehensive: 3400},
		{ID: "menora", Provider: "Menora", Compulsory: 1250, Comprehensive: 3600},
	}
}
