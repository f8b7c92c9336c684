package wallbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/parse"
)

const (
	pathAuthentication = "auth/token/user"
	pathCharger        = "v2/charger/"
	pathControl        = "v3/chargers/"
	pathAction         = "/remote-action"
	pathStatus         = "chargers/status/"

	maxBodyBytes = 4 << 20
)

// Client talks to the vendor cloud API. It keeps no state between calls.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a vendor client. Every call is bounded by
// cfg.RequestTimeout.
func NewClient(cfg config.WallboxConfig, logger *zap.Logger) *Client {
	var transport http.RoundTripper = &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logger.Warn("invalid proxy URL, not using a proxy", zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		baseURL: baseURL,
		timeout: cfg.RequestTimeout,
		http:    &http.Client{Transport: transport},
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate exchanges the account credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, email, password string) (string, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(email + ":" + password))
	status, body, err := c.do(ctx, "authenticate", http.MethodPost, pathAuthentication, "Basic "+basic, nil)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &AuthError{StatusCode: status, Message: "unreadable token response"}
	}
	if resp.Error || resp.JWT == "" {
		return "", &AuthError{StatusCode: status, Message: resp.Msg}
	}
	return resp.JWT, nil
}

// FetchPrimary requests the full charger snapshot. The vendor uses PUT with
// an empty body for reads of this resource.
func (c *Client) FetchPrimary(ctx context.Context, token, chargerID string) (*ChargerData, error) {
	return c.chargerRequest(ctx, "fetch charger data", token, chargerID, nil)
}

// FetchExtended requests the status payload.
func (c *Client) FetchExtended(ctx context.Context, token, chargerID string) (*StatusData, error) {
	const op = "fetch status data"
	status, body, err := c.do(ctx, op, http.MethodGet, pathStatus+url.PathEscape(chargerID), "Bearer "+token, nil)
	if err != nil {
		return nil, err
	}

	payload, decodeErr := decodePayload(body, c.now())
	if status < 200 || status >= 300 {
		return nil, apiError(op, status, payload.Fields)
	}
	if decodeErr != nil {
		return nil, &APIError{Op: op, StatusCode: status, Message: fmt.Sprintf("unreadable response: %v", decodeErr)}
	}
	if msg, ok := vendorMessage(payload.Fields); ok {
		return nil, &APIError{Op: op, StatusCode: status, Message: msg}
	}
	return &StatusData{Payload: payload}, nil
}

// SubmitChange writes one charger field. The vendor echoes the updated
// snapshot; if it does not carry the requested value the snapshot is
// returned together with a *ChangeNotAppliedError.
func (c *Client) SubmitChange(ctx context.Context, token, chargerID, field string, value any) (*ChargerData, error) {
	body := map[string]any{field: value}
	data, err := c.chargerRequest(ctx, "change "+field, token, chargerID, body)
	if err != nil {
		return nil, err
	}

	actual, ok := data.Get(field)
	if !ok || !parse.Equal(actual, value) {
		return data, &ChangeNotAppliedError{Field: field, Requested: value, Actual: actual}
	}
	return data, nil
}

// SubmitAction posts a remote action. A 403 means the charger already is in
// the requested state and is reported as ActionAlreadyApplied.
func (c *Client) SubmitAction(ctx context.Context, token, chargerID string, action Action) (ActionResult, error) {
	op := "remote action " + action.String()
	path := pathControl + url.PathEscape(chargerID) + pathAction
	status, body, err := c.do(ctx, op, http.MethodPost, path, "Bearer "+token, map[string]any{"action": int(action)})
	if err != nil {
		return ActionAccepted, err
	}

	switch {
	case status == http.StatusForbidden:
		return ActionAlreadyApplied, nil
	case status < 200 || status >= 300:
		payload, _ := decodePayload(body, c.now())
		return ActionAccepted, apiError(op, status, payload.Fields)
	}
	c.logger.Debug("remote action accepted", zap.String("action", action.String()), zap.ByteString("response", body))
	return ActionAccepted, nil
}

func (c *Client) chargerRequest(ctx context.Context, op, token, chargerID string, reqBody any) (*ChargerData, error) {
	status, body, err := c.do(ctx, op, http.MethodPut, pathCharger+url.PathEscape(chargerID), "Bearer "+token, reqBody)
	if err != nil {
		return nil, err
	}

	envelope, decodeErr := decodePayload(body, c.now())
	if status < 200 || status >= 300 {
		return nil, apiError(op, status, envelope.Fields)
	}
	if decodeErr != nil {
		return nil, &APIError{Op: op, StatusCode: status, Message: fmt.Sprintf("unreadable response: %v", decodeErr)}
	}

	var resp chargerResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil || len(resp.Data.ChargerData) == 0 {
		msg, _ := vendorMessage(envelope.Fields)
		if msg == "" {
			msg = "response carries no charger data"
		}
		return nil, &APIError{Op: op, StatusCode: status, Message: msg}
	}

	payload, err := decodePayload(resp.Data.ChargerData, envelope.FetchedAt)
	if err != nil {
		return nil, &APIError{Op: op, StatusCode: status, Message: fmt.Sprintf("unreadable charger data: %v", err)}
	}
	return &ChargerData{Payload: payload}, nil
}

func apiError(op string, status int, fields map[string]any) error {
	msg, _ := vendorMessage(fields)
	if msg == "" {
		if s, ok := fields["msg"].(string); ok {
			msg = s
		}
	}
	return &APIError{Op: op, StatusCode: status, Message: msg}
}

// do performs one request bounded by the client timeout and returns the
// status code and body.
func (c *Client) do(ctx context.Context, op, method, path, authorization string, reqBody any) (int, []byte, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: failed to marshal request payload: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, transportError(op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, transportError(op, err)
	}
	return resp.StatusCode, b, nil
}
