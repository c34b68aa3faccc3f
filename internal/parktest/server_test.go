package parktest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/parktest"
	"github.com/lotview/lotview/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

func postJSON(t *testing.T, url string, body any, wantStatus int) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s = %d, want %d", url, resp.StatusCode, wantStatus)
	}
	return resp
}

func TestServer_RegisterLoginRefreshMe(t *testing.T) {
	server := parktest.New()
	defer server.Close()

	resp := postJSON(t, server.URL()+"/api/v1/auth/register", map[string]string{
		"email": "driver@example.com", "password": "passw0rd", "name": "Driver",
	}, http.StatusCreated)
	resp.Body.Close()

	// Duplicate registration is the documented 400.
	resp = postJSON(t, server.URL()+"/api/v1/auth/register", map[string]string{
		"email": "driver@example.com", "password": "passw0rd", "name": "Driver",
	}, http.StatusBadRequest)
	var detail map[string]string
	json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	if detail["detail"] != "Email already registered" {
		t.Errorf("detail = %q", detail["detail"])
	}

	// Login is form-encoded with a username field.
	form := url.Values{"username": {"driver@example.com"}, "password": {"passw0rd"}}
	loginResp, err := http.Post(server.URL()+"/api/v1/auth/login",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d, want 200", loginResp.StatusCode)
	}
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	json.NewDecoder(loginResp.Body).Decode(&pair)
	loginResp.Body.Close()
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "bearer" {
		t.Fatalf("pair = %+v", pair)
	}

	// Refresh exchanges the refresh token for a fresh pair.
	resp = postJSON(t, server.URL()+"/api/v1/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}, http.StatusOK)
	resp.Body.Close()

	// An access token is rejected where a refresh token is expected.
	resp = postJSON(t, server.URL()+"/api/v1/auth/refresh",
		map[string]string{"refresh_token": pair.AccessToken}, http.StatusUnauthorized)
	resp.Body.Close()

	// /auth/me honors the bearer token.
	req, _ := http.NewRequest(http.MethodGet, server.URL()+"/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	meResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var me struct {
		Email string `json:"email"`
	}
	json.NewDecoder(meResp.Body).Decode(&me)
	meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK || me.Email != "driver@example.com" {
		t.Errorf("me = %d %+v", meResp.StatusCode, me)
	}
}

func TestServer_ReservedBeatsMLFreeReport(t *testing.T) {
	server := parktest.New()
	defer server.Close()
	server.SeedLot(parking.Lot{ID: 1, Name: "Central Garage", Slots: []parking.Slot{
		{ID: 11, Name: "A-1", Status: parking.SlotReserved},
	}})

	// The detection pipeline seeing an empty space must not release a
	// reservation.
	if server.UpdateSlotStatus(1, 11, parking.SlotFree) {
		t.Error("Expected free report to be swallowed for a reserved slot")
	}

	// Occupied still wins: someone parked in the reserved slot.
	if !server.UpdateSlotStatus(1, 11, parking.SlotOccupied) {
		t.Error("Expected occupied to override reserved")
	}
	// And a free report is honored for a non-reserved slot.
	if !server.UpdateSlotStatus(1, 11, parking.SlotFree) {
		t.Error("Expected free to apply to an occupied slot")
	}
}

func TestServer_BookingRequiresAuth(t *testing.T) {
	server := parktest.New()
	defer server.Close()
	server.SeedUser("driver@example.com", "passw0rd", "Driver")
	server.SeedLot(parking.Lot{ID: 1, Name: "Central Garage", Slots: []parking.Slot{
		{ID: 11, Name: "A-1", Status: parking.SlotFree, RatePerHour: 50},
	}})

	body := map[string]any{"slot_id": 11, "duration_hours": 2}
	resp := postJSON(t, server.URL()+"/api/v1/bookings", body, http.StatusUnauthorized)
	resp.Body.Close()

	access, _ := server.IssueTokens("driver@example.com")
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL()+"/api/v1/bookings", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+access)
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("authed booking = %d, want 200", authed.StatusCode)
	}
	var order struct {
		Amount int64 `json:"amount"`
	}
	json.NewDecoder(authed.Body).Decode(&order)
	if order.Amount != 10000 {
		t.Errorf("amount = %d paise, want 10000 (2h at rate 50)", order.Amount)
	}
}
