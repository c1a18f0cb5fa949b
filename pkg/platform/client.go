package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ============================================
// PLATFORM REST CLIENT
// Drives the external telephony platform's call endpoints
// ============================================

// ErrActionFailed is returned when the platform accepts a request but reports
// success:false. Unwrap with errors.Is; the message carries the server reason.
var ErrActionFailed = errors.New("platform action failed")

// Client is an HTTP client for the telephony platform's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a platform API client. baseURL is the API root without a
// trailing slash, e.g. "https://api.example.com/v1".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListCalls fetches every call currently known to the platform, active and
// recently terminated alike. The caller classifies them.
func (c *Client) ListCalls(ctx context.Context) ([]CallRecord, error) {
	body, err := c.do(ctx, http.MethodGet, "/sip/calls", nil)
	if err != nil {
		return nil, err
	}

	var calls []CallRecord
	if err := json.Unmarshal(body, &calls); err != nil {
		// Some deployments wrap the list in the standard envelope.
		var env apiEnvelope
		if err2 := json.Unmarshal(body, &env); err2 != nil || !env.Success {
			return nil, fmt.Errorf("failed to decode call list: %w", err)
		}
		if err2 := json.Unmarshal(env.Data, &calls); err2 != nil {
			return nil, fmt.Errorf("failed to decode call list: %w", err2)
		}
	}
	return calls, nil
}

// PlaceCall initiates an outbound SIP call into a room.
// Numbers must already be validated as E.164; the platform rejects anything else.
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (*PlaceCallResult, error) {
	if !ValidE164(req.CalledDID) {
		return nil, fmt.Errorf("calledDid %q is not E.164", req.CalledDID)
	}
	if !ValidE164(req.CallerIDNumber) {
		return nil, fmt.Errorf("callerIdNumber %q is not E.164", req.CallerIDNumber)
	}

	body, err := c.do(ctx, http.MethodPost, "/sip/call", req)
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode place-call response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrActionFailed, env.Error)
	}

	var result PlaceCallResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode place-call data: %w", err)
		}
	}
	return &result, nil
}

// ============================================
// CALL ACTIONS
// Each keyed by sipCallId, each returning {success, error?}
// ============================================

// EndCall hangs up an active call.
func (c *Client) EndCall(ctx context.Context, sipCallID string) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/end", nil)
}

// RejectCall declines a ringing incoming call.
func (c *Client) RejectCall(ctx context.Context, sipCallID string) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/reject", nil)
}

// Hold places a call on hold, optionally playing a message and pausing recording.
func (c *Client) Hold(ctx context.Context, sipCallID string, opts HoldOptions) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/hold", opts)
}

// Unhold resumes a held call.
func (c *Client) Unhold(ctx context.Context, sipCallID string) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/unhold", nil)
}

// SwitchSource hands the audio path to the agent or to a named human participant.
func (c *Client) SwitchSource(ctx context.Context, sipCallID string, target MediaSource, humanName string) error {
	payload := map[string]string{"target": string(target)}
	if humanName != "" {
		payload["humanName"] = humanName
	}
	return c.action(ctx, "/sip/call/"+sipCallID+"/switch-source", payload)
}

// StartAgent starts the platform's automated agent on the call.
func (c *Client) StartAgent(ctx context.Context, sipCallID string) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/start-agent", nil)
}

// StopAgent stops the platform's automated agent on the call.
func (c *Client) StopAgent(ctx context.Context, sipCallID string) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/stop-agent", nil)
}

// PlayAudio plays TTS or an audio URL into the call.
func (c *Client) PlayAudio(ctx context.Context, sipCallID string, req PlayAudioRequest) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/play-audio", req)
}

// UpdatePlayToAll toggles whether injected audio is heard by all parties.
func (c *Client) UpdatePlayToAll(ctx context.Context, sipCallID string, playToAll bool) error {
	return c.action(ctx, "/sip/call/"+sipCallID+"/play-to-all", map[string]bool{"playToAll": playToAll})
}

// action POSTs a call action and maps success:false to ErrActionFailed.
func (c *Client) action(ctx context.Context, path string, payload any) error {
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode action response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrActionFailed, env.Error)
	}
	return nil
}

// do executes one HTTP request and returns the raw body for 2xx responses.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
