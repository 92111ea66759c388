package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/peershare/booking/internal/store/gormstore"
	"github.com/peershare/booking/pkg/booking"
)

func startBookingServer(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/booking.db"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	service, err := booking.NewService(gormstore.New(db), func() int64 { return time.Now().Unix() })
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	cfg := Config{
		ListenAddr:      ":0",
		AllowedOrigins:  []string{"http://localhost:3000"},
		TokenSigningKey: "secret-key",
		TokenIssuer:     "peershare",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	handler := &httpHandler{
		logger:  zap.NewNop(),
		service: service,
		cfg:     cfg,
	}
	server := httptest.NewServer(setupRouter(cfg, handler))
	t.Cleanup(server.Close)
	return server, cfg
}

func buildToken(t *testing.T, cfg Config, accountID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    cfg.TokenIssuer,
		Subject:   accountID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.TokenSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return signed
}

func execJSON(t *testing.T, server *httptest.Server, method string, path string, token string, payload any, out any) int {
	t.Helper()
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("payload marshal failed: %v", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func openAccount(t *testing.T, server *httptest.Server, displayName string) string {
	t.Helper()
	var account accountResponse
	status := execJSON(t, server, http.MethodPost, "/api/accounts", "", map[string]any{"display_name": displayName}, &account)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 opening account, got %d", status)
	}
	return account.AccountID
}

func TestBookingAPIEndToEnd(t *testing.T) {
	server, cfg := startBookingServer(t)

	renterID := openAccount(t, server, "Renter")
	ownerID := openAccount(t, server, "Owner")
	renterToken := buildToken(t, cfg, renterID)
	ownerToken := buildToken(t, cfg, ownerID)

	// Fund the renter with 100.00.
	var balance balanceResponse
	status := execJSON(t, server, http.MethodPost, "/api/me/deposit", renterToken, map[string]any{"amount_cents": 10000}, &balance)
	if status != http.StatusOK {
		t.Fatalf("expected 200 depositing, got %d", status)
	}
	if balance.BalanceCents != 10000 {
		t.Fatalf("expected balance 10000, got %d", balance.BalanceCents)
	}

	// Owner lists a 10.00/day item.
	var item itemResponse
	status = execJSON(t, server, http.MethodPost, "/api/items", ownerToken, map[string]any{
		"title":               "Cordless drill",
		"category":            "tools",
		"price_per_day_cents": 1000,
	}, &item)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 registering item, got %d", status)
	}

	// Three days at 10.00/day comes to 30.00.
	var rental rentalResponse
	status = execJSON(t, server, http.MethodPost, "/api/rentals", renterToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-01-10",
		"end_date":   "2024-01-13",
	}, &rental)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 creating booking, got %d", status)
	}
	if rental.TotalPriceCents != 3000 {
		t.Fatalf("expected total 3000, got %d", rental.TotalPriceCents)
	}
	if rental.Status != "pending" {
		t.Fatalf("expected pending rental, got %s", rental.Status)
	}

	// Overlapping range is rejected.
	var conflict errorBody
	status = execJSON(t, server, http.MethodPost, "/api/rentals", renterToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-01-12",
		"end_date":   "2024-01-15",
	}, &conflict)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for overlap, got %d", status)
	}
	if conflict.Code != "conflict" {
		t.Fatalf("expected conflict code, got %s", conflict.Code)
	}

	// Owner cannot book the own item.
	status = execJSON(t, server, http.MethodPost, "/api/rentals", ownerToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-02-01",
		"end_date":   "2024-02-03",
	}, &conflict)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for own item, got %d", status)
	}

	// Cancelling from pending refunds the full price.
	var cancelled rentalResponse
	status = execJSON(t, server, http.MethodPost, "/api/rentals/"+rental.RentalID+"/cancel", renterToken, nil, &cancelled)
	if status != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d", status)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled rental, got %s", cancelled.Status)
	}
	status = execJSON(t, server, http.MethodGet, "/api/me/balance", renterToken, nil, &balance)
	if status != http.StatusOK {
		t.Fatalf("expected 200 reading balance, got %d", status)
	}
	if balance.BalanceCents != 10000 {
		t.Fatalf("expected 10000 after refund, got %d", balance.BalanceCents)
	}

	// The cancelled range is free again.
	status = execJSON(t, server, http.MethodPost, "/api/rentals", renterToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-01-10",
		"end_date":   "2024-01-13",
	}, &rental)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 rebooking freed range, got %d", status)
	}

	// Rentals listing shows both sides.
	var rentals rentalsResponse
	status = execJSON(t, server, http.MethodGet, "/api/me/rentals", ownerToken, nil, &rentals)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing rentals, got %d", status)
	}
	if len(rentals.AsOwner) != 2 {
		t.Fatalf("expected two rentals as owner, got %d", len(rentals.AsOwner))
	}
	if len(rentals.AsRenter) != 0 {
		t.Fatalf("expected no rentals as renter for owner, got %d", len(rentals.AsRenter))
	}

	// Ledger entries exist for the renter.
	var entries struct {
		Entries []entryResponse `json:"entries"`
	}
	status = execJSON(t, server, http.MethodGet, "/api/me/entries", renterToken, nil, &entries)
	if status != http.StatusOK {
		t.Fatalf("expected 200 listing entries, got %d", status)
	}
	if len(entries.Entries) == 0 {
		t.Fatalf("expected ledger entries to be populated")
	}
}

func TestBookingAPIInsufficientFunds(t *testing.T) {
	server, cfg := startBookingServer(t)

	renterID := openAccount(t, server, "Renter")
	ownerID := openAccount(t, server, "Owner")
	renterToken := buildToken(t, cfg, renterID)
	ownerToken := buildToken(t, cfg, ownerID)

	var balance balanceResponse
	if status := execJSON(t, server, http.MethodPost, "/api/me/deposit", renterToken, map[string]any{"amount_cents": 2000}, &balance); status != http.StatusOK {
		t.Fatalf("expected 200 depositing, got %d", status)
	}
	var item itemResponse
	if status := execJSON(t, server, http.MethodPost, "/api/items", ownerToken, map[string]any{
		"title":               "Road bike",
		"category":            "vehicles",
		"price_per_day_cents": 1000,
	}, &item); status != http.StatusCreated {
		t.Fatalf("expected 201 registering item, got %d", status)
	}

	var failure errorBody
	status := execJSON(t, server, http.MethodPost, "/api/rentals", renterToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-01-10",
		"end_date":   "2024-01-13",
	}, &failure)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for insufficient funds, got %d", status)
	}
	if failure.Code != "insufficient_funds" {
		t.Fatalf("expected insufficient_funds code, got %s", failure.Code)
	}

	// The failed booking left no hold behind.
	var withdrawal balanceResponse
	if status := execJSON(t, server, http.MethodPost, "/api/me/deposit", renterToken, map[string]any{"amount_cents": 1000}, &withdrawal); status != http.StatusOK {
		t.Fatalf("expected 200 topping up, got %d", status)
	}
	var rental rentalResponse
	if status := execJSON(t, server, http.MethodPost, "/api/rentals", renterToken, map[string]any{
		"item_id":    item.ItemID,
		"start_date": "2024-01-10",
		"end_date":   "2024-01-13",
	}, &rental); status != http.StatusCreated {
		t.Fatalf("expected 201 after topping up, got %d", status)
	}
}

func TestBookingAPIRejectsBadTokens(t *testing.T) {
	server, cfg := startBookingServer(t)

	if status := execJSON(t, server, http.MethodGet, "/api/me/balance", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	forged := Config{TokenSigningKey: "other-key", TokenIssuer: cfg.TokenIssuer}
	badToken := buildToken(t, forged, "someone")
	if status := execJSON(t, server, http.MethodGet, "/api/me/balance", badToken, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with forged token, got %d", status)
	}

	claims := jwt.RegisteredClaims{
		Issuer:  cfg.TokenIssuer,
		Subject: "someone",
		// No expiry: the middleware requires one.
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.TokenSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	if status := execJSON(t, server, http.MethodGet, "/api/me/balance", signed, nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without expiry, got %d", status)
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	origins := ParseAllowedOrigins(" http://a.example , ,http://b.example ")
	if len(origins) != 2 || origins[0] != "http://a.example" || origins[1] != "http://b.example" {
		t.Fatalf("unexpected origins: %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		t.Fatalf("expected empty slice for blank input")
	}
}
