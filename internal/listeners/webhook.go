package listeners

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

var errNotActive = errors.New("listener is not active")

// WebhookListener starts processes from HTTP requests routed to its path.
//
// Properties:
//
//	path         route segment under /inbound/ (default: <process>-<element>)
//	hmac_secret  require a valid X-Webhook-Signature
//	jwt_secret   require an HS256 bearer token; its claims are passed on
type WebhookListener struct {
	mu         sync.RWMutex
	lc         ports.ListenerContext
	path       string
	hmacSecret string
	jwtSecret  string
}

func NewWebhookListener() *WebhookListener {
	return &WebhookListener{}
}

func (l *WebhookListener) Activate(_ context.Context, lc ports.ListenerContext) error {
	def := lc.Definition()
	path := strings.Trim(def.StringProperty("path", ""), "/")
	if path == "" {
		path = def.Identity.ProcessKey + "-" + def.ElementID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lc = lc
	l.path = path
	l.hmacSecret = def.StringProperty("hmac_secret", "")
	l.jwtSecret = def.StringProperty("jwt_secret", "")
	return nil
}

func (l *WebhookListener) Deactivate(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lc = nil
	return nil
}

func (l *WebhookListener) WebhookPath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// Handle authenticates the request, then hands the payload to correlation.
// Authentication failures are answered with 401 and are not errors.
func (l *WebhookListener) Handle(ctx context.Context, req ports.WebhookRequest) (ports.WebhookResponse, error) {
	l.mu.RLock()
	lc, hmacSecret, jwtSecret := l.lc, l.hmacSecret, l.jwtSecret
	l.mu.RUnlock()
	if lc == nil {
		return ports.WebhookResponse{}, errNotActive
	}

	if hmacSecret != "" && !verifyHMAC(req.Body, hmacSecret, req.Header.Get(SignatureHeader)) {
		lc.Log(inbound.NewActivity(inbound.SeverityWarn, "webhook", "rejected request with invalid signature"))
		return unauthorized("invalid signature"), nil
	}

	var claims jwt.MapClaims
	if jwtSecret != "" {
		c, err := verifyBearer(req.Header.Get("Authorization"), jwtSecret)
		if err != nil {
			lc.Log(inbound.NewActivity(inbound.SeverityWarn, "webhook", "rejected request: "+err.Error()))
			return unauthorized("invalid token"), nil
		}
		claims = c
	}

	payload, err := buildPayload(req, claims)
	if err != nil {
		return ports.WebhookResponse{
			StatusCode: http.StatusBadRequest,
			Body:       map[string]any{"error": err.Error()},
		}, nil
	}

	result, err := lc.Correlate(ctx, payload)
	if err != nil {
		return ports.WebhookResponse{}, err
	}
	body := map[string]any{
		"activated":      result.Activated,
		"correlation_id": result.CorrelationID,
	}
	if result.ProcessInstanceID != "" {
		body["process_instance_id"] = result.ProcessInstanceID
	}
	if result.MessageKey != "" {
		body["message_key"] = result.MessageKey
	}
	if result.Duplicate {
		body["duplicate"] = true
	}
	if result.Reason != "" {
		body["reason"] = result.Reason
	}
	return ports.WebhookResponse{StatusCode: http.StatusAccepted, Body: body}, nil
}

func unauthorized(msg string) ports.WebhookResponse {
	return ports.WebhookResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       map[string]any{"error": msg},
	}
}

// buildPayload exposes the request to activation conditions as
// body, headers, query and, when a token was verified, claims.
func buildPayload(req ports.WebhookRequest, claims jwt.MapClaims) (map[string]any, error) {
	var body any
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
	}

	headers := make(map[string]any, len(req.Header))
	for k, v := range req.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	query := make(map[string]any, len(req.Query))
	for k, v := range req.Query {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	payload := map[string]any{
		"body":    body,
		"headers": headers,
		"query":   query,
	}
	if claims != nil {
		payload["claims"] = map[string]any(claims)
	}
	return payload, nil
}

// verifyHMAC checks the HMAC-SHA256 signature of a payload.
func verifyHMAC(payload []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func verifyBearer(header, secret string) (jwt.MapClaims, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}
