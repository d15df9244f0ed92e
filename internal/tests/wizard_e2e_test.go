package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneybridge/server/internal/audit"
	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/bank"
	"github.com/moneybridge/server/internal/flow"
	httprouter "github.com/moneybridge/server/internal/http"
	"github.com/moneybridge/server/internal/store"
)

const (
	testBuyerPhone   = "0541112233"
	testSellerPhone  = "0529998877"
	testSellerID     = "123456789"
	testVehiclePlate = "1234567"
)

func newWizardServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	jwtService := auth.NewJWTService("e2e-test-secret")
	timings := flow.Timings{
		DepositAutoAdvance:   time.Second,
		PaymentSimulation:    20 * time.Millisecond,
		TransferVerification: 20 * time.Millisecond,
	}
	manager := flow.NewManager(func() *flow.Machine {
		return flow.NewMachine(st, audit.Nop{}, timings)
	}, time.Hour)
	srv := httptest.NewServer(httprouter.NewRouter(jwtService, manager, auth.NewStubOtpProvider()))
	t.Cleanup(srv.Close)
	return srv
}

// wizardClient drives one session through the HTTP API.
type wizardClient struct {
	t     *testing.T
	base  string
	token string
	http  *http.Client
}

func newWizardClient(t *testing.T, srv *httptest.Server) *wizardClient {
	t.Helper()
	c := &wizardClient{t: t, base: srv.URL, http: srv.Client()}
	status, body := c.post("/session", nil)
	require.Equal(t, http.StatusCreated, status, "POST /session; body: %v", body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	c.token = token
	return c
}

func (c *wizardClient) do(method, path string, payload interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(c.t, err)
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reqBody)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &body), "body: %s", raw)
	}
	return resp.StatusCode, body
}

func (c *wizardClient) post(path string, payload interface{}) (int, map[string]interface{}) {
	c.t.Helper()
	return c.do(http.MethodPost, path, payload)
}

func (c *wizardClient) get(path string) (int, map[string]interface{}) {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil)
}

func (c *wizardClient) step() string {
	c.t.Helper()
	status, body := c.get("/state")
	require.Equal(c.t, http.StatusOK, status)
	step, _ := body["step"].(string)
	return step
}

func stateOf(body map[string]interface{}) map[string]interface{} {
	state, _ := body["state"].(map[string]interface{})
	return state
}

func TestWizardE2E(t *testing.T) {
	srv := newWizardServer(t)

	t.Run("Health", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("UnauthenticatedStateRejected", func(t *testing.T) {
		resp, err := srv.Client().Get(srv.URL + "/state")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("FullSale", func(t *testing.T) {
		buyer := newWizardClient(t, srv)
		seller := newWizardClient(t, srv)

		// buyer branch up to the approval wait
		status, _ := buyer.post("/session/role", map[string]string{"role": "BUYER"})
		require.Equal(t, http.StatusOK, status)

		status, body := buyer.post("/buyer/vehicle", map[string]interface{}{
			"plate": testVehiclePlate, "owner_count": 1, "mileage": 30000,
		})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		pricing, _ := body["pricing"].(map[string]interface{})
		require.NotNil(t, pricing)
		avgPrice := int(pricing["avg_price"].(float64))
		require.Greater(t, avgPrice, 0)

		status, body = buyer.post("/buyer/request", map[string]string{
			"buyer_phone":      testBuyerPhone,
			"buyer_name":       "Dana",
			"seller_phone":     testSellerPhone,
			"seller_id_number": testSellerID,
		})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "BUYER_WAITING_APPROVAL", body["step"])

		// seller branch: OTP, register, approve
		status, _ = seller.post("/session/role", map[string]string{"role": "SELLER"})
		require.Equal(t, http.StatusOK, status)

		status, _ = seller.post("/seller/request_otp", map[string]string{"phone": testSellerPhone})
		require.Equal(t, http.StatusOK, status)

		status, body = seller.post("/seller/register", map[string]string{
			"phone": testSellerPhone, "id_number": testSellerID, "code": "4821",
		})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "SELLER_PENDING_REQUESTS", body["step"])

		status, body = seller.get("/seller/requests")
		require.Equal(t, http.StatusOK, status)
		requests, _ := body["requests"].([]interface{})
		require.Len(t, requests, 1)
		requestID := requests[0].(map[string]interface{})["id"].(string)

		status, body = seller.post("/seller/approve", map[string]string{"request_id": requestID})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "SELLER_SET_PRICE", body["step"])

		// approval reaches the buyer
		require.Eventually(t, func() bool {
			return buyer.step() == "BUYER_CONFIRM_PRICE"
		}, 2*time.Second, 20*time.Millisecond)

		// price below the floor is rejected
		status, _ = seller.post("/seller/price", map[string]int{"price": 999})
		assert.Equal(t, http.StatusBadRequest, status)

		// an in-band price carries no warning
		status, body = seller.post("/seller/price", map[string]int{"price": avgPrice})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, false, body["outside_band"])
		assert.Equal(t, "SELLER_WAITING_PAYMENT", stateOf(body)["step"])

		// buyer accepts the price and pays
		status, body = buyer.post("/buyer/confirm_price", nil)
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "BUYER_BANK_DETAILS", body["step"])

		status, body = buyer.post("/buyer/bank", map[string]string{
			"bank_id": "leumi", "branch": "936", "account_number": "1122334455",
		})
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.NotNil(t, body["escrow"])
		assert.NotEmpty(t, body["financing_offers"])
		assert.Equal(t, float64(bank.ServiceFee(avgPrice)), body["service_fee"])
		assert.Equal(t, float64(avgPrice+bank.ServiceFee(avgPrice)), body["total_due"])

		status, _ = buyer.post("/buyer/financing", map[string]string{"offer_id": ""})
		require.Equal(t, http.StatusOK, status)
		status, _ = buyer.post("/buyer/deposit", nil)
		require.Equal(t, http.StatusOK, status)

		require.Eventually(t, func() bool {
			return buyer.step() == "BUYER_WAITING_TRANSFER"
		}, 2*time.Second, 20*time.Millisecond, "payment simulation did not resolve")
		require.Eventually(t, func() bool {
			return seller.step() == "SELLER_OWNERSHIP_TRANSFER"
		}, 2*time.Second, 20*time.Millisecond, "seller did not see the payment")

		// seller runs the transfer verification; both sides complete
		status, _ = seller.post("/seller/transfer", nil)
		require.Equal(t, http.StatusOK, status)
		require.Eventually(t, func() bool {
			return seller.step() == "COMPLETE" && buyer.step() == "COMPLETE"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("RejectionFlagsBuyer", func(t *testing.T) {
		buyer := newWizardClient(t, srv)
		seller := newWizardClient(t, srv)

		require1 := func(status int, body map[string]interface{}) {
			require.Equal(t, http.StatusOK, status, "body: %v", body)
		}
		require1(buyer.post("/session/role", map[string]string{"role": "BUYER"}))
		require1(buyer.post("/buyer/vehicle", map[string]interface{}{
			"plate": testVehiclePlate, "owner_count": 2, "mileage": 80000,
		}))
		require1(buyer.post("/buyer/request", map[string]string{
			"buyer_phone":      "0542223344",
			"buyer_name":       "Noa",
			"seller_phone":     "0521234567",
			"seller_id_number": "987654321",
		}))

		require1(seller.post("/session/role", map[string]string{"role": "SELLER"}))
		require1(seller.post("/seller/request_otp", map[string]string{"phone": "0521234567"}))
		require1(seller.post("/seller/register", map[string]string{
			"phone": "0521234567", "id_number": "987654321", "code": "0000",
		}))

		status, body := seller.get("/seller/requests")
		require.Equal(t, http.StatusOK, status)
		requests, _ := body["requests"].([]interface{})
		require.Len(t, requests, 1)
		requestID := requests[0].(map[string]interface{})["id"].(string)

		require1(seller.post("/seller/reject", map[string]string{"request_id": requestID}))

		require.Eventually(t, func() bool {
			_, state := buyer.get("/state")
			rejected, _ := state["request_rejected"].(bool)
			return rejected
		}, 2*time.Second, 20*time.Millisecond)
		assert.Equal(t, "BUYER_WAITING_APPROVAL", buyer.step())

		// the rejected request is no longer actionable
		status, _ = seller.post("/seller/approve", map[string]string{"request_id": requestID})
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		buyer := newWizardClient(t, srv)
		status, _ := buyer.post("/session/role", map[string]string{"role": "BUYER"})
		require.Equal(t, http.StatusOK, status)

		// short plate
		status, _ = buyer.post("/buyer/vehicle", map[string]interface{}{
			"plate": "12", "owner_count": 1, "mileage": 0,
		})
		assert.Equal(t, http.StatusBadRequest, status)

		// seller action on a buyer session
		status, _ = buyer.post("/seller/transfer", nil)
		assert.Equal(t, http.StatusConflict, status)

		status, body := buyer.post("/buyer/vehicle", map[string]interface{}{
			"plate": testVehiclePlate, "owner_count": 1, "mileage": 10000,
		})
		require.Equal(t, http.StatusOK, status, "body: %v", body)

		// 9-digit phone is too short
		status, _ = buyer.post("/buyer/request", map[string]string{
			"buyer_phone":      "054111223",
			"seller_phone":     testSellerPhone,
			"seller_id_number": testSellerID,
		})
		assert.Equal(t, http.StatusBadRequest, status)

		// 8-digit seller id is rejected
		status, _ = buyer.post("/buyer/request", map[string]string{
			"buyer_phone":      testBuyerPhone,
			"seller_phone":     testSellerPhone,
			"seller_id_number": "12345678",
		})
		assert.Equal(t, http.StatusBadRequest, status)

		// bank details are validated before the step guard
		status, _ = buyer.post("/buyer/bank", map[string]string{
			"bank_id": "leumi", "branch": "9", "account_number": "1122334455",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		status, _ = buyer.post("/buyer/bank", map[string]string{
			"bank_id": "leumi", "branch": "936", "account_number": "12345",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("CancelAndRestart", func(t *testing.T) {
		buyer := newWizardClient(t, srv)
		status, _ := buyer.post("/session/role", map[string]string{"role": "BUYER"})
		require.Equal(t, http.StatusOK, status)

		status, body := buyer.post("/session/cancel", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ROLE_SELECT", body["step"])

		// the session is reusable after cancelling
		status, body = buyer.post("/session/role", map[string]string{"role": "SELLER"})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "SELLER_REGISTER", body["step"])
	})
}
