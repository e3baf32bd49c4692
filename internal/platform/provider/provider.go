// Package provider wraps the outbound call and email delivery vendors.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout marks a dispatch that did not complete before the client
// deadline. Callers treat it as retryable.
var ErrTimeout = errors.New("provider: request timed out")

// RejectionError is returned when the vendor accepted the request but
// refused to dispatch it, for example an unreachable number.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("provider rejected dispatch: %s", e.Reason)
}

// CallRequest carries everything the call vendor needs to place an
// outbound follow-up call.
type CallRequest struct {
	ItemID      uuid.UUID `json:"item_id"`
	ClinicName  string    `json:"clinic_name"`
	ClinicPhone string    `json:"clinic_phone,omitempty"`
	OwnerPhone  string    `json:"owner_phone"`
	PetName     string    `json:"pet_name,omitempty"`
	Summary     string    `json:"summary,omitempty"`
}

// EmailRequest carries everything the email vendor needs to send a
// follow-up message.
type EmailRequest struct {
	ItemID     uuid.UUID `json:"item_id"`
	ClinicName string    `json:"clinic_name"`
	OwnerEmail string    `json:"owner_email"`
	PetName    string    `json:"pet_name,omitempty"`
	Summary    string    `json:"summary,omitempty"`
}

// Dispatch is the vendor's acknowledgement of an accepted request.
type Dispatch struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// CallProvider places outbound calls.
type CallProvider interface {
	DispatchCall(ctx context.Context, req CallRequest) (*Dispatch, error)
}

// EmailProvider sends outbound emails.
type EmailProvider interface {
	DispatchEmail(ctx context.Context, req EmailRequest) (*Dispatch, error)
}

// Client is the full vendor surface, both channels under one credential
// set.
type Client interface {
	CallProvider
	EmailProvider
}

// Credentials are the per-clinic vendor settings.
type Credentials struct {
	BaseURL string
	APIKey  string
}

// HTTPProvider talks to the vendor's REST API. It implements both
// CallProvider and EmailProvider since the vendor exposes both under a
// single credential set.
type HTTPProvider struct {
	creds  Credentials
	client *http.Client
}

func NewHTTPProvider(creds Credentials, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		creds:  creds,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) DispatchCall(ctx context.Context, req CallRequest) (*Dispatch, error) {
	return p.post(ctx, "/v1/calls", req)
}

func (p *HTTPProvider) DispatchEmail(ctx context.Context, req EmailRequest) (*Dispatch, error) {
	return p.post(ctx, "/v1/emails", req)
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any) (*Dispatch, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.creds.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var d Dispatch
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("failed to decode provider response: %w", err)
		}
		return &d, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var rej struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(raw, &rej)
		if rej.Reason == "" {
			rej.Reason = "unprocessable request"
		}
		return nil, &RejectionError{Reason: rej.Reason}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("provider unavailable: status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}
}

func isClientTimeout(err error) bool {
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) {
		return ue.Timeout()
	}
	return false
}
