package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/computemarket/cmkt/internal/controlplane"
	"github.com/computemarket/cmkt/internal/models"
)

func withAPI(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prevAddr, prevAs, prevToken := apiAddr, actingAs, token
	apiAddr, actingAs, token = srv.URL, "", ""
	t.Cleanup(func() { apiAddr, actingAs, token = prevAddr, prevAs, prevToken })
}

func TestAPIPost_SendsIdentity(t *testing.T) {
	var gotPrincipal, gotAuth string
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = r.Header.Get(controlplane.PrincipalHeader)
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	})

	actingAs = "0xbuyer"
	if _, err := apiPost("/services/1/buy", map[string]string{"payment": "100"}); err != nil {
		t.Fatalf("apiPost failed: %v", err)
	}
	if gotPrincipal != "0xbuyer" || gotAuth != "" {
		t.Errorf("Expected principal header only, got %q / %q", gotPrincipal, gotAuth)
	}

	token = "signed"
	if _, err := apiGet("/tasks"); err != nil {
		t.Fatalf("apiGet failed: %v", err)
	}
	if gotAuth != "Bearer signed" || gotPrincipal != "" {
		t.Errorf("Expected bearer token only, got %q / %q", gotPrincipal, gotAuth)
	}
}

func TestAPIError_RendersMarketCode(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"payment 50 below price 100: insufficient payment","codespace":"market","code":4}`))
	})

	_, err := apiPost("/services/1/buy", map[string]string{"payment": "50"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if got := err.Error(); got != "payment 50 below price 100: insufficient payment (market code 4)" {
		t.Errorf("Unexpected error text: %s", got)
	}

	if err := apiError(http.StatusBadGateway, []byte("upstream down")); !strings.Contains(err.Error(), "502") {
		t.Errorf("Expected raw status in error, got %v", err)
	}
}

func TestCheckHealth_ReturnsPayloadOnFailure(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false,"db":"ok","version":"dev"}`))
	})

	health, err := CheckHealth()
	if err == nil {
		t.Fatal("Expected error for 503")
	}
	if health == nil || health.OK || health.DB != "ok" {
		t.Errorf("Expected parsed payload, got %+v", health)
	}
}

func TestEventDetail(t *testing.T) {
	got := eventDetail(models.Event{TaskID: 3, ServiceID: 1, Amount: "150"})
	if got != "task=3 service=1 amount=150" {
		t.Errorf("Unexpected detail: %q", got)
	}
	if got := eventDetail(models.Event{Principal: "0xa", Counterpart: "0xb"}); got != "principal=0xa counterpart=0xb" {
		t.Errorf("Unexpected detail: %q", got)
	}
}

func TestIsLocal(t *testing.T) {
	for addr, want := range map[string]bool{
		"http://127.0.0.1:7466":  true,
		"http://localhost:8080":  true,
		"http://[::1]:7466":      true,
		"https://market.example": false,
		"http://10.0.0.5:7466":   false,
	} {
		if got := isLocal(addr); got != want {
			t.Errorf("isLocal(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("task", "42"); err != nil || id != 42 {
		t.Errorf("parseID = %d, %v", id, err)
	}
	if _, err := parseID("task", "-1"); err == nil || !strings.Contains(err.Error(), "invalid task id") {
		t.Errorf("Expected invalid id error, got %v", err)
	}
}
