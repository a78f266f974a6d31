package correlation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"
)

const engineTimeout = 30 * time.Second

// EngineConfig locates the process engine. ClientID, ClientSecret and
// TokenURL enable OAuth2 client-credentials authentication.
type EngineConfig struct {
	URL          string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

var _ Engine = (*EngineClient)(nil)

// EngineClient starts process instances and publishes messages through the
// engine's REST API.
type EngineClient struct {
	baseURL string
	http    *http.Client
}

func NewEngineClient(cfg EngineConfig) *EngineClient {
	httpClient := &http.Client{Timeout: engineTimeout}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = engineTimeout
	}
	return &EngineClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    httpClient,
	}
}

type startProcessBody struct {
	ProcessKey string `json:"process_key"`
	TenantID   string `json:"tenant_id"`
	StartRequest
}

type startProcessResponse struct {
	ProcessInstanceID string `json:"process_instance_id"`
}

// StartProcess posts to {url}/v1/process-instances.
func (c *EngineClient) StartProcess(ctx context.Context, req StartRequest) (string, error) {
	var out startProcessResponse
	err := c.post(ctx, "/v1/process-instances", startProcessBody{
		ProcessKey:   req.Identity.ProcessKey,
		TenantID:     req.Identity.TenantID,
		StartRequest: req,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ProcessInstanceID == "" {
		return "", fmt.Errorf("engine response has no process_instance_id")
	}
	return out.ProcessInstanceID, nil
}

type publishMessageBody struct {
	TenantID   string `json:"tenant_id"`
	TimeToLive int64  `json:"time_to_live"` // milliseconds
	MessageRequest
}

type publishMessageResponse struct {
	MessageKey string `json:"message_key"`
}

// PublishMessage posts to {url}/v1/messages. A 409 answer means the message
// id was already used and is reported as ErrMessageExists.
func (c *EngineClient) PublishMessage(ctx context.Context, req MessageRequest) (string, error) {
	var out publishMessageResponse
	err := c.post(ctx, "/v1/messages", publishMessageBody{
		TenantID:       req.Identity.TenantID,
		TimeToLive:     req.TTL.Milliseconds(),
		MessageRequest: req,
	}, &out)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		return "", ErrMessageExists
	}
	if err != nil {
		return "", err
	}
	if out.MessageKey == "" {
		return "", fmt.Errorf("engine response has no message_key")
	}
	return out.MessageKey, nil
}

func (c *EngineClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.code, e.body)
}

// LoggingEngine records start requests and messages in the log instead of
// calling an engine. It is used when no engine URL is configured.
type LoggingEngine struct{}

func (LoggingEngine) StartProcess(_ context.Context, req StartRequest) (string, error) {
	id := uuid.NewString()
	slog.Info("engine: process start (dry run)",
		"process", req.Identity.String(), "version", req.Version,
		"element", req.ElementID, "instance", id, "correlation_id", req.CorrelationID)
	return id, nil
}

func (LoggingEngine) PublishMessage(_ context.Context, req MessageRequest) (string, error) {
	key := uuid.NewString()
	slog.Info("engine: message publish (dry run)",
		"process", req.Identity.String(), "message", req.Name,
		"correlation_key", req.CorrelationKey, "message_key", key, "correlation_id", req.CorrelationID)
	return key, nil
}
