package listeners

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soochol/inflow/internal/inbound/ports"
)

func activeWebhook(t *testing.T, props map[string]any) (*WebhookListener, *fakeContext) {
	t.Helper()
	lc := newFakeContext(TypeWebhook, props)
	l := NewWebhookListener()
	if err := l.Activate(context.Background(), lc); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return l, lc
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookListener_Path(t *testing.T) {
	l, _ := activeWebhook(t, map[string]any{"path": "/orders/created/"})
	if got := l.WebhookPath(); got != "orders/created" {
		t.Fatalf("WebhookPath() = %q", got)
	}

	l, _ = activeWebhook(t, nil)
	if got := l.WebhookPath(); got != "orders-start" {
		t.Fatalf("default WebhookPath() = %q", got)
	}
}

func TestWebhookListener_HandleCorrelates(t *testing.T) {
	l, lc := activeWebhook(t, nil)

	resp, err := l.Handle(context.Background(), ports.WebhookRequest{
		Method: http.MethodPost,
		Header: http.Header{"X-Source": {"shop"}},
		Query:  map[string][]string{"dry": {"false"}},
		Body:   []byte(`{"order_id":"o-17","total":42}`),
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Body["process_instance_id"] != "pi-1" || resp.Body["activated"] != true {
		t.Fatalf("unexpected body %v", resp.Body)
	}

	payloads, _ := lc.snapshot()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 correlation, got %d", len(payloads))
	}
	p := payloads[0]
	if p["body"].(map[string]any)["order_id"] != "o-17" {
		t.Errorf("body not passed through: %v", p["body"])
	}
	if p["headers"].(map[string]any)["x-source"] != "shop" {
		t.Errorf("headers not passed through: %v", p["headers"])
	}
	if p["query"].(map[string]any)["dry"] != "false" {
		t.Errorf("query not passed through: %v", p["query"])
	}
}

func TestWebhookListener_HMAC(t *testing.T) {
	body := []byte(`{"message":"hello"}`)
	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{"valid signature", sign(body, "s3cret"), http.StatusAccepted},
		{"wrong signature", "deadbeef", http.StatusUnauthorized},
		{"missing signature", "", http.StatusUnauthorized},
		{"wrong secret", sign(body, "other"), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, lc := activeWebhook(t, map[string]any{"hmac_secret": "s3cret"})
			header := http.Header{}
			if tt.signature != "" {
				header.Set(SignatureHeader, tt.signature)
			}
			resp, err := l.Handle(context.Background(), ports.WebhookRequest{Header: header, Body: body})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			payloads, _ := lc.snapshot()
			if tt.status != http.StatusAccepted && len(payloads) != 0 {
				t.Fatal("rejected request must not be correlated")
			}
		})
	}
}

func TestWebhookListener_JWT(t *testing.T) {
	token := func(method jwt.SigningMethod, key any, exp time.Time) string {
		s, err := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "erp", "exp": exp.Unix()}).SignedString(key)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return s
	}
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"valid token", "Bearer " + token(jwt.SigningMethodHS256, []byte("k"), future), http.StatusAccepted},
		{"wrong key", "Bearer " + token(jwt.SigningMethodHS256, []byte("x"), future), http.StatusUnauthorized},
		{"expired", "Bearer " + token(jwt.SigningMethodHS256, []byte("k"), time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"other algorithm", "Bearer " + token(jwt.SigningMethodHS512, []byte("k"), future), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, lc := activeWebhook(t, map[string]any{"jwt_secret": "k"})
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}
			resp, err := l.Handle(context.Background(), ports.WebhookRequest{Header: header})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == http.StatusAccepted {
				payloads, _ := lc.snapshot()
				claims := payloads[0]["claims"].(map[string]any)
				if claims["sub"] != "erp" {
					t.Fatalf("claims not passed through: %v", claims)
				}
			}
		})
	}
}

func TestWebhookListener_InvalidJSON(t *testing.T) {
	l, _ := activeWebhook(t, nil)
	resp, err := l.Handle(context.Background(), ports.WebhookRequest{Body: []byte("{not json")})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebhookListener_CorrelationError(t *testing.T) {
	l, lc := activeWebhook(t, nil)
	lc.err = errors.New("engine down")

	if _, err := l.Handle(context.Background(), ports.WebhookRequest{}); err == nil {
		t.Fatal("expected correlation error")
	}
}

func TestWebhookListener_InactiveRejects(t *testing.T) {
	l, _ := activeWebhook(t, nil)
	l.Deactivate(context.Background())

	if _, err := l.Handle(context.Background(), ports.WebhookRequest{}); !errors.Is(err, errNotActive) {
		t.Fatalf("expected errNotActive, got %v", err)
	}
}
