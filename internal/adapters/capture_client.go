package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/platform/config"
	"agency_calls_backend/platform/logger"
	"agency_calls_backend/platform/phone"

	"github.com/google/uuid"
)

// CaptureClient drives the audio-capture subsystem over its JSON API.
type CaptureClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type startCaptureRequest struct {
	TenantID  string `json:"tenantId"`
	CallID    string `json:"callId"`
	Extension string `json:"extension"`
}

type startCaptureResponse struct {
	SessionID           string `json:"sessionId"`
	ExternalPartyNumber string `json:"externalPartyNumber"`
}

type stopCaptureRequest struct {
	TenantID  string `json:"tenantId"`
	SessionID string `json:"sessionId"`
}

// NewCaptureClient returns nil when no capture API is configured.
func NewCaptureClient(cfg config.CaptureConfig, log *logger.Logger) *CaptureClient {
	if cfg.GetCaptureAPIURL() == "" {
		return nil
	}

	return &CaptureClient{
		baseURL: strings.TrimRight(cfg.GetCaptureAPIURL(), "/"),
		apiKey:  cfg.GetCaptureAPIKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// StartCapture asks the subsystem to record the agent leg of a call. A 204
// or an empty session id means recording did not start.
func (c *CaptureClient) StartCapture(ctx context.Context, tenantID uuid.UUID, externalCallID, extension string) (*ports.CaptureSession, error) {
	if c == nil {
		return nil, nil
	}

	var resp startCaptureResponse
	found, err := c.post(ctx, "/captures/start", startCaptureRequest{
		TenantID:  tenantID.String(),
		CallID:    externalCallID,
		Extension: extension,
	}, &resp)
	if err != nil || !found || resp.SessionID == "" {
		return nil, err
	}

	session := &ports.CaptureSession{SessionID: resp.SessionID}
	if resp.ExternalPartyNumber != "" {
		number, regular := phone.Normalize(resp.ExternalPartyNumber)
		if !regular {
			c.log.Warn("irregular phone number kept as sent",
				"call_id", externalCallID, "number", number, "kind", phone.Classify(number))
		}
		session.ExternalPartyNumber = number
	}
	c.log.Info("capture started", "call_id", externalCallID, "session_id", resp.SessionID)
	return session, nil
}

// StopCapture ends a recording session.
func (c *CaptureClient) StopCapture(ctx context.Context, tenantID uuid.UUID, sessionID string) error {
	if c == nil {
		return nil
	}
	_, err := c.post(ctx, "/captures/stop", stopCaptureRequest{
		TenantID:  tenantID.String(),
		SessionID: sessionID,
	}, nil)
	return err
}

// post returns false when the subsystem answered 204.
func (c *CaptureClient) post(ctx context.Context, path string, payload, out any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal capture payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("capture request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("capture service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode != http.StatusNoContent, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode capture response: %w", err)
	}
	return true, nil
}

// Compile-time check that CaptureClient implements ports.CaptureController
var _ ports.CaptureController = (*CaptureClient)(nil)
