package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGatewayServer(t *testing.T, status string, orderCode int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			if r.Method != http.MethodPost {
				t.Fatalf("token method = %s, want POST", r.Method)
			}
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				t.Fatalf("unexpected basic auth: %s:%s", user, pass)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "token-1"})
		case "/v2/checkout/orders/ORDER-1":
			if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
				t.Fatalf("authorization = %q, want Bearer token-1", got)
			}
			if orderCode != http.StatusOK {
				w.WriteHeader(orderCode)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":          "ORDER-1",
				"status":      status,
				"update_time": "2026-01-02T10:00:00Z",
				"payer":       map[string]string{"email_address": "payer@example.com"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestVerifyOrder_Completed(t *testing.T) {
	ts := newGatewayServer(t, "COMPLETED", http.StatusOK)
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	capture, err := client.VerifyOrder(ctx, "ORDER-1")
	if err != nil {
		t.Fatalf("VerifyOrder error: %v", err)
	}
	if capture.ID != "ORDER-1" || capture.Status != "COMPLETED" {
		t.Fatalf("unexpected capture: %+v", capture)
	}
	if capture.PayerEmail != "payer@example.com" {
		t.Fatalf("payer email = %q, want payer@example.com", capture.PayerEmail)
	}
}

func TestVerifyOrder_NotCompleted(t *testing.T) {
	ts := newGatewayServer(t, "CREATED", http.StatusOK)
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.VerifyOrder(ctx, "ORDER-1"); err == nil {
		t.Fatalf("expected error for not completed order")
	}
}

func TestVerifyOrder_NotFound(t *testing.T) {
	ts := newGatewayServer(t, "", http.StatusNotFound)
	defer ts.Close()

	client := NewClient(ts.URL, "client", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.VerifyOrder(ctx, "ORDER-1"); err == nil {
		t.Fatalf("expected error for missing order")
	}
}
