package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/computemarket/cmkt/internal/auth"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/notify"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	testAuthority = "0xadmin"
	testBuyer     = "0xbuyer"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
}

func newTestEnv(t *testing.T, mutate func(o *Options)) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	hub := notify.NewHub()
	mkt, err := market.New(st, testAuthority, market.WithPublisher(hub))
	if err != nil {
		t.Fatalf("Failed to create market: %v", err)
	}

	opts := Options{
		Market:  mkt,
		Store:   st,
		Hub:     hub,
		Log:     zerolog.Nop(),
		Version: "test",
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := NewServer(opts, "127.0.0.1:0")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		srv.Close()
		st.Close()
	})
	return &testEnv{srv: srv, store: st}
}

// do sends a request as principal and decodes the response into out.
func (e *testEnv) do(t *testing.T, method, path, principal string, body interface{}, out interface{}) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if principal != "" {
		req.Header.Set(PrincipalHeader, principal)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint_OK(t *testing.T) {
	env := newTestEnv(t, nil)

	var health HealthResponse
	if code := env.do(t, http.MethodGet, "/health", "", nil, &health); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if !health.OK || health.DB != "ok" {
		t.Errorf("Unexpected health: %+v", health)
	}
	if health.Version != "test" || health.Time == "" {
		t.Errorf("Expected version and time, got %+v", health)
	}
	if health.Invariant == nil || !health.Invariant.Holds {
		t.Errorf("Expected invariant to hold, got %+v", health.Invariant)
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	if code := env.do(t, http.MethodPost, "/health", "", nil, nil); code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Close()

	var health HealthResponse
	if code := env.do(t, http.MethodGet, "/health", "", nil, &health); code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", code)
	}
	if health.OK || !strings.HasPrefix(health.DB, "error") {
		t.Errorf("Expected DB error, got %+v", health)
	}
}

type fakeStats map[string]interface{}

func (f fakeStats) GetStats() map[string]interface{} { return f }

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Relay = fakeStats{"last_seq": 7}
	})

	var stats struct {
		Hub   map[string]float64 `json:"hub"`
		Relay map[string]float64 `json:"relay"`
	}
	if code := env.do(t, http.MethodGet, "/stats", "", nil, &stats); code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if _, ok := stats.Hub["subscribers"]; !ok {
		t.Errorf("Expected hub counters, got %+v", stats.Hub)
	}
	if stats.Relay["last_seq"] != 7 {
		t.Errorf("Expected relay counters, got %+v", stats.Relay)
	}
}

func TestPurchaseLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	var svc models.Service
	code := env.do(t, http.MethodPost, "/services", testAuthority,
		map[string]interface{}{"service_id": 1, "price": "100"}, &svc)
	if code != http.StatusCreated {
		t.Fatalf("Register: expected 201, got %d", code)
	}
	if !svc.Active || svc.Price.Uint64() != 100 {
		t.Errorf("Unexpected service: %+v", svc)
	}

	var task models.Task
	code = env.do(t, http.MethodPost, "/services/1/buy", testBuyer,
		map[string]interface{}{"payment": 150}, &task)
	if code != http.StatusCreated {
		t.Fatalf("Buy: expected 201, got %d", code)
	}
	if task.TaskID != 1 || task.Status != models.TaskStatusCreated || task.Amount.Uint64() != 150 {
		t.Errorf("Unexpected task: %+v", task)
	}

	var bal BalanceResponse
	env.do(t, http.MethodGet, "/escrow/balance", "", nil, &bal)
	if bal.Balance != "150" {
		t.Errorf("Expected escrow 150, got %s", bal.Balance)
	}

	if code := env.do(t, http.MethodPost, "/tasks/1/start", testAuthority, nil, &task); code != http.StatusOK {
		t.Fatalf("Start: expected 200, got %d", code)
	}
	code = env.do(t, http.MethodPost, "/tasks/1/complete", testAuthority,
		map[string]string{"result_hash": "QmResult"}, &task)
	if code != http.StatusOK {
		t.Fatalf("Complete: expected 200, got %d", code)
	}
	if task.Status != models.TaskStatusCompleted || task.ResultHash != "QmResult" {
		t.Errorf("Unexpected completed task: %+v", task)
	}

	env.do(t, http.MethodGet, "/escrow/balance", "", nil, &bal)
	if bal.Balance != "0" {
		t.Errorf("Expected escrow 0, got %s", bal.Balance)
	}
	env.do(t, http.MethodGet, "/accounts/"+testAuthority+"/balance", "", nil, &bal)
	if bal.Balance != "150" {
		t.Errorf("Expected authority balance 150, got %s", bal.Balance)
	}

	var count CountResponse
	env.do(t, http.MethodGet, "/tasks/count", "", nil, &count)
	if count.Count != 1 {
		t.Errorf("Expected count 1, got %d", count.Count)
	}

	var report market.InvariantReport
	env.do(t, http.MethodGet, "/escrow/invariant", "", nil, &report)
	if !report.Holds {
		t.Errorf("Expected invariant to hold: %+v", report)
	}

	var events []models.Event
	env.do(t, http.MethodGet, "/events?after=1", "", nil, &events)
	if len(events) != 3 || events[0].Seq != 2 {
		t.Fatalf("Expected 3 events after seq 1, got %+v", events)
	}
	if events[len(events)-1].Type != models.EventTaskCompleted {
		t.Errorf("Expected last event task_completed, got %s", events[len(events)-1].Type)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": 1, "price": "100"}, nil)

	cases := []struct {
		name      string
		method    string
		path      string
		principal string
		body      interface{}
		status    int
		code      uint32
	}{
		{"not authority", http.MethodPost, "/services", testBuyer, map[string]interface{}{"service_id": 2, "price": "1"}, http.StatusForbidden, 2},
		{"inactive service", http.MethodPost, "/services/9/buy", testBuyer, map[string]string{"payment": "100"}, http.StatusConflict, 3},
		{"underpaid", http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "99"}, http.StatusPaymentRequired, 4},
		{"unknown task", http.MethodPost, "/tasks/42/start", testAuthority, nil, http.StatusConflict, 5},
		{"get unknown task", http.MethodGet, "/tasks/42", "", nil, http.StatusNotFound, 6},
		{"bad amount", http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "-5"}, http.StatusBadRequest, 7},
		{"bad id", http.MethodGet, "/tasks/abc", "", nil, http.StatusBadRequest, 7},
		{"bad status filter", http.MethodGet, "/tasks?status=paid", "", nil, http.StatusBadRequest, 7},
		{"task id past 63 bits", http.MethodGet, "/tasks/9223372036854775808", "", nil, http.StatusBadRequest, 7},
		{"service id past 63 bits", http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": uint64(1) << 63, "price": "1"}, http.StatusBadRequest, 7},
		{"after past 63 bits", http.MethodGet, "/events?after=18446744073709551615", "", nil, http.StatusBadRequest, 7},
		{"custody account buys", http.MethodPost, "/services/1/buy", "escrow", map[string]string{"payment": "100"}, http.StatusBadRequest, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp ErrorResponse
			status := env.do(t, tc.method, tc.path, tc.principal, tc.body, &resp)
			if status != tc.status {
				t.Errorf("Expected status %d, got %d (%+v)", tc.status, status, resp)
			}
			if resp.Codespace != market.Codespace || resp.Code != tc.code {
				t.Errorf("Expected %s/%d, got %s/%d", market.Codespace, tc.code, resp.Codespace, resp.Code)
			}
			if resp.Error == "" {
				t.Error("Expected error message")
			}
		})
	}

	// Rejected calls leave no task behind
	var count CountResponse
	env.do(t, http.MethodGet, "/tasks/count", "", nil, &count)
	if count.Count != 0 {
		t.Errorf("Expected no tasks, got %d", count.Count)
	}
}

func TestAuthorityTransfer(t *testing.T) {
	env := newTestEnv(t, nil)

	var resp AuthorityResponse
	code := env.do(t, http.MethodPost, "/authority/transfer", testAuthority,
		map[string]string{"new_authority": "0xNEW"}, &resp)
	if code != http.StatusOK || resp.Authority != "0xnew" {
		t.Fatalf("Expected transfer to 0xnew, got %d %+v", code, resp)
	}

	env.do(t, http.MethodGet, "/authority", "", nil, &resp)
	if resp.Authority != "0xnew" {
		t.Errorf("Expected 0xnew, got %s", resp.Authority)
	}

	code = env.do(t, http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": 1, "price": "1"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("Previous authority should be rejected, got %d", code)
	}
}

func TestFreezeRejectsRefund(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": 1, "price": "10"}, nil)
	env.do(t, http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "10"}, nil)

	if code := env.do(t, http.MethodPost, "/accounts/"+testBuyer+"/freeze", testAuthority, map[string]bool{"frozen": true}, nil); code != http.StatusOK {
		t.Fatalf("Freeze: expected 200, got %d", code)
	}

	var resp ErrorResponse
	if code := env.do(t, http.MethodPost, "/tasks/1/refund", testAuthority, nil, &resp); code != http.StatusConflict || resp.Code != 8 {
		t.Errorf("Expected 409/8, got %d %+v", code, resp)
	}

	var task models.Task
	env.do(t, http.MethodGet, "/tasks/1", "", nil, &task)
	if task.Status != models.TaskStatusCreated {
		t.Errorf("Expected task untouched, got %s", task.Status)
	}

	var decisions []models.PDREntry
	env.do(t, http.MethodGet, "/tasks/1/decisions", "", nil, &decisions)
	if len(decisions) < 2 || decisions[0].Outcome != "rejected" {
		t.Errorf("Expected rejected refund on record, got %+v", decisions)
	}
}

func TestBearerTokens(t *testing.T) {
	tokens, err := auth.NewTokens("0123456789abcdef", "cmkt", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}
	env := newTestEnv(t, func(o *Options) { o.Tokens = tokens })

	send := func(header string) int {
		body := strings.NewReader(`{"service_id":1,"price":"5"}`)
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/services", body)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		req.Header.Set(PrincipalHeader, testAuthority)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	// The principal header is ignored once tokens are on
	if code := send(""); code != http.StatusForbidden {
		t.Errorf("Expected 403 without token, got %d", code)
	}
	if code := send("Bearer garbage"); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad token, got %d", code)
	}

	tok, _, err := tokens.Issue(testAuthority)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if code := send("Bearer " + tok); code != http.StatusCreated {
		t.Errorf("Expected 201 with token, got %d", code)
	}
}

func TestBuyRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.BuyPerSecond = 0.001
		o.BuyBurst = 2
	})
	env.do(t, http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": 1, "price": "1"}, nil)

	for i := 0; i < 2; i++ {
		if code := env.do(t, http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "1"}, nil); code != http.StatusCreated {
			t.Fatalf("Buy %d: expected 201, got %d", i, code)
		}
	}
	if code := env.do(t, http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "1"}, nil); code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", code)
	}
	// Limits are per principal
	if code := env.do(t, http.MethodPost, "/services/1/buy", "0xother", map[string]string{"payment": "1"}, nil); code != http.StatusCreated {
		t.Errorf("Expected other buyer to be allowed, got %d", code)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/services", testAuthority, map[string]interface{}{"service_id": 1, "price": "1"}, nil)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/events/stream?after=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev models.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Read backlog: %v", err)
	}
	if ev.Seq != 1 || ev.Type != models.EventServiceRegistered {
		t.Errorf("Expected backlog service_registered seq 1, got %+v", ev)
	}

	env.do(t, http.MethodPost, "/services/1/buy", testBuyer, map[string]string{"payment": "1"}, nil)

	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Read live: %v", err)
	}
	if ev.Seq != 2 || ev.Type != models.EventTaskCreated || ev.Principal != testBuyer {
		t.Errorf("Expected live task_created seq 2 from buyer, got %+v", ev)
	}
}
