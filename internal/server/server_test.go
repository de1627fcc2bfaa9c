package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DarknessoPirate/itemite-core/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		ReleaseAfter:  config.DefaultReleaseAfter,
		SweepInterval: config.DefaultSweepInterval,
		CloseInterval: config.DefaultCloseInterval,
		SettleTimeout: config.DefaultSettleTimeout,
		RateLimitRPM:  config.DefaultRateLimit,
	}
}

// newTestServer creates a server on in-memory storage with the
// recording processor stub
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestAuctionRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"POST:/v1/auctions":          false,
		"GET:/v1/auctions/:id":       false,
		"POST:/v1/auctions/:id/bids": false,
		"GET:/v1/auctions/:id/bids":  false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("Auction route %s not registered", route)
		}
	}
}

func TestPaymentRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"POST:/v1/payments":             false,
		"GET:/v1/payments/:id":          false,
		"POST:/v1/payments/:id/trigger": false,
		"POST:/v1/payments/:id/settle":  false,
		"POST:/v1/payments/:id/dispute": false,
		"GET:/v1/disputes/:id":          false,
		"POST:/v1/disputes/:id/resolve": false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("Payment route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"GET:/ws/stats",
		"GET:/api",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow through the router
// ---------------------------------------------------------------------------

func TestAuctionBidFlow(t *testing.T) {
	s := newTestServer(t)

	body := `{"ownerId":"usr_seller","title":"road bike","startingBid":"50.00","endsAt":"` +
		time.Now().Add(time.Hour).Format(time.RFC3339) + `"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auctions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var createResp struct {
		Auction struct {
			ID string `json:"id"`
		} `json:"auction"`
	}
	json.Unmarshal(w.Body.Bytes(), &createResp)
	if createResp.Auction.ID == "" {
		t.Fatal("Expected auction ID in response")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/auctions/"+createResp.Auction.ID+"/bids",
		strings.NewReader(`{"bidderId":"usr_buyer","price":"55.00"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for bid, got %d: %s", w.Code, w.Body.String())
	}

	var bidResp struct {
		Bid struct {
			Price string `json:"price"`
		} `json:"bid"`
	}
	json.Unmarshal(w.Body.Bytes(), &bidResp)
	if bidResp.Bid.Price != "55.00" {
		t.Errorf("Expected price 55.00, got %s", bidResp.Bid.Price)
	}
}

func TestPaymentFlow(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/payments",
		strings.NewReader(`{"buyerId":"usr_buyer","sellerId":"usr_seller","amount":"80.00"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var openResp struct {
		Payment struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"payment"`
	}
	json.Unmarshal(w.Body.Bytes(), &openResp)
	if openResp.Payment.Status != "pending" {
		t.Errorf("Expected pending, got %s", openResp.Payment.Status)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/payments/"+openResp.Payment.ID+"/trigger",
		strings.NewReader(`{"trigger":"delivery_confirmed"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for trigger, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/payments/"+openResp.Payment.ID+"/settle", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for settle, got %d: %s", w.Code, w.Body.String())
	}

	var settleResp struct {
		Payment struct {
			Status string `json:"status"`
		} `json:"payment"`
	}
	json.Unmarshal(w.Body.Bytes(), &settleResp)
	if settleResp.Payment.Status != "transferred" {
		t.Errorf("Expected transferred, got %s", settleResp.Payment.Status)
	}
}

// ---------------------------------------------------------------------------
// Misc
// ---------------------------------------------------------------------------

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["name"] != "itemite-core" {
		t.Errorf("Expected name itemite-core, got %v", resp["name"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	// Caller-supplied IDs pass through untouched.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("Expected req-abc-123, got %q", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
