// Package backend wraps the reading backend's HTTP API with a uniform
// retry, timeout, and cancellation contract so callers never deal with
// transport-level flakiness directly.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/arcanaday/arcana-session/internal/domain"
	"github.com/arcanaday/arcana-session/internal/liveness"
)

var errMissingSessionID = errors.New("start-chat response carried no session id")

// Client talks to the reading backend. All methods issue strictly sequential
// attempts under the configured retry policy; concurrent calls are not
// deduplicated — a later call supersedes an earlier one only if the caller
// discards the earlier result.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	logger        *slog.Logger
	policy        Policy
	readingPolicy Policy
}

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	BaseURL       string
	Policy        Policy
	ReadingPolicy Policy
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:       baseURL,
		Policy:        DefaultPolicy(),
		ReadingPolicy: ReadingPolicy(),
	}
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.ReadingPolicy == (Policy{}) {
		cfg.ReadingPolicy = ReadingPolicy()
	}
	return &Client{
		// No client-level timeout: per-call budgets come from the retry
		// policy, light calls stay unbounded.
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		logger:        logger,
		policy:        cfg.Policy,
		readingPolicy: cfg.ReadingPolicy,
	}
}

// SubmitUserRequest carries the onboarding identity submission.
type SubmitUserRequest struct {
	Name        string      `json:"name"`
	DateOfBirth string      `json:"dateOfBirth"`
	Language    string      `json:"language"`
	Tier        domain.Tier `json:"tier"`
}

// SubmitUser persists the identity and returns the backend-derived zodiac sign.
func (c *Client) SubmitUser(scope *liveness.Scope, req SubmitUserRequest) (string, error) {
	var resp struct {
		ZodiacSign string `json:"zodiac_sign"`
	}
	err := c.call(scope, c.policy, "submit-user", http.MethodPost, "/api/submit-user", nil, req, &resp)
	if err != nil {
		return "", err
	}
	return resp.ZodiacSign, nil
}

// ReadingQuery identifies the profile a single-card reading is generated for.
type ReadingQuery struct {
	Name       string
	ZodiacSign string
	Language   string
}

// GetReading fetches a single-card reading. Bounded by the reading policy's
// per-attempt timeout; an attempt past the budget is aborted, not ignored.
func (c *Client) GetReading(scope *liveness.Scope, q ReadingQuery) (*domain.Reading, error) {
	params := url.Values{
		"name":       {q.Name},
		"zodiacSign": {q.ZodiacSign},
		"language":   {q.Language},
	}
	var resp struct {
		CardName       string `json:"cardName"`
		CardImage      string `json:"cardImage"`
		Interpretation string `json:"interpretation"`
	}
	err := c.call(scope, c.readingPolicy, "get-reading", http.MethodGet, "/api/reading", params, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &domain.Reading{
		CardName:       resp.CardName,
		CardImage:      resp.CardImage,
		Interpretation: resp.Interpretation,
	}, nil
}

// VerifyResult classifies a poster code: either an existing tag-linked user
// or a fresh registration.
type VerifyResult struct {
	ExistingUser bool
	TagID        string
}

// VerifyPoster validates a poster code with the backend.
func (c *Client) VerifyPoster(scope *liveness.Scope, code string) (*VerifyResult, error) {
	body := map[string]string{"code": code}
	var resp struct {
		ExistingUser bool   `json:"existingUser"`
		NFCID        string `json:"nfcId"`
	}
	err := c.call(scope, c.policy, "verify-poster", http.MethodPost, "/api/nfc/verify-poster", nil, body, &resp)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		ExistingUser: resp.ExistingUser,
		TagID:        domain.NormalizeTagID(resp.NFCID),
	}, nil
}

// RegistrationPayload is the complete multi-step form payload.
type RegistrationPayload struct {
	TagID       string   `json:"nfc_id,omitempty"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	DateOfBirth string   `json:"dateOfBirth"`
	Gender      string   `json:"gender"`
	Color       string   `json:"color"`
	Language    string   `json:"language"`
	Numbers     []int    `json:"numbers"`
	Aspirations string   `json:"aspirations"`
	Interests   []string `json:"interests"`
	ZodiacSign  string   `json:"zodiacSign"`
}

// RegisterNFCUser creates a tag-linked identity from a verified poster code.
func (c *Client) RegisterNFCUser(scope *liveness.Scope, payload RegistrationPayload) (*domain.NFCIdentity, error) {
	var raw json.RawMessage
	err := c.call(scope, c.policy, "register-user", http.MethodPost, "/api/nfc/register", nil, payload, &raw)
	if err != nil {
		return nil, err
	}
	return normalizeIdentity(raw)
}

// UpdateNFCUser updates an existing tag-linked identity.
func (c *Client) UpdateNFCUser(scope *liveness.Scope, tagID string, payload RegistrationPayload) (*domain.NFCIdentity, error) {
	payload.TagID = domain.NormalizeTagID(tagID)
	var raw json.RawMessage
	err := c.call(scope, c.policy, "update-user", http.MethodPut, "/api/nfc/user", nil, payload, &raw)
	if err != nil {
		return nil, err
	}
	return normalizeIdentity(raw)
}

// LookupNFCUser resolves a tag id to its profile. The id is normalized to
// the required prefix before the call.
func (c *Client) LookupNFCUser(scope *liveness.Scope, tagID string) (*domain.NFCIdentity, error) {
	params := url.Values{"tag_id": {domain.NormalizeTagID(tagID)}}
	var resp struct {
		Success  bool            `json:"success"`
		UserData json.RawMessage `json:"user_data"`
	}
	err := c.call(scope, c.policy, "nfc-user", http.MethodGet, "/api/nfc/user", params, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Failure{Kind: KindRejected, Message: "user not found"}
	}
	return normalizeIdentity(resp.UserData)
}

// DailyReading fetches the per-day personalized content for a tag-linked user.
func (c *Client) DailyReading(scope *liveness.Scope, tagID, language string) (*domain.Reading, error) {
	body := map[string]string{
		"nfc_id":   domain.NormalizeTagID(tagID),
		"language": language,
	}
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	err := c.call(scope, c.readingPolicy, "daily-reading", http.MethodPost, "/api/nfc/daily-reading", nil, body, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Failure{Kind: KindRejected, Message: "daily reading unavailable"}
	}
	return normalizeReading(resp.Data)
}

// SpreadRequest identifies the profile a three-card spread is generated for.
type SpreadRequest struct {
	Name       string `json:"name"`
	ZodiacSign string `json:"zodiacSign"`
	Language   string `json:"language"`
}

// ThreeCardReading fetches a premium multi-card spread.
func (c *Client) ThreeCardReading(scope *liveness.Scope, req SpreadRequest) (*domain.Reading, error) {
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Cards          []string `json:"cards"`
			CardNames      []string `json:"cardNames"`
			Interpretation string   `json:"interpretation"`
		} `json:"data"`
	}
	err := c.call(scope, c.readingPolicy, "three-card-reading", http.MethodPost, "/api/three-card-reading", nil, req, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &Failure{Kind: KindRejected, Message: "spread unavailable"}
	}
	return &domain.Reading{
		Cards:          resp.Data.Cards,
		CardNames:      resp.Data.CardNames,
		Interpretation: resp.Data.Interpretation,
	}, nil
}

// StartChatRequest carries the full reading context a chat session is bound to.
type StartChatRequest struct {
	Name           string   `json:"name"`
	ZodiacSign     string   `json:"zodiacSign"`
	CardNames      []string `json:"cardNames"`
	Interpretation string   `json:"interpretation"`
	Tier           string   `json:"tier"`
	Language       string   `json:"language"`
}

// StartChat opens a language-bound chat session. Returns the opaque session
// id and the assistant's opening message.
func (c *Client) StartChat(scope *liveness.Scope, req StartChatRequest) (sessionID, opening string, err error) {
	var resp struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}
	err = c.call(scope, c.policy, "start-chat", http.MethodPost, "/api/chat/start", nil, req, &resp)
	if err != nil {
		return "", "", err
	}
	if resp.SessionID == "" {
		return "", "", transportFailure(errMissingSessionID)
	}
	return resp.SessionID, resp.Response, nil
}

// ContinueChat sends a user message into an open chat session.
func (c *Client) ContinueChat(scope *liveness.Scope, sessionID, message, language string) (string, error) {
	body := map[string]string{
		"session_id": sessionID,
		"message":    message,
		"language":   language,
	}
	var resp struct {
		Response string `json:"response"`
	}
	err := c.call(scope, c.policy, "chat", http.MethodPost, "/api/chat", nil, body, &resp)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) call(scope *liveness.Scope, p Policy, name, method, path string, query url.Values, body, out any) error {
	return p.Do(scope, c.logger, name, func(ctx context.Context) error {
		return c.doJSON(ctx, method, path, query, body, out)
	})
}

// doJSON performs one physical attempt and classifies its outcome.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return transportFailure(fmt.Errorf("encode request: %w", err))
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return transportFailure(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return timeoutFailure(err)
		case errors.Is(err, context.Canceled):
			return staleFailure()
		default:
			return transportFailure(err)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeoutFailure(err)
		}
		return transportFailure(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Failure{
			Kind:    KindRejected,
			Status:  resp.StatusCode,
			Message: rejectionMessage(data, resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return transportFailure(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// rejectionMessage extracts the backend's {"error": ...} body, falling back
// to a generic message when the body is not JSON.
func rejectionMessage(data []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("request failed with status %d", status)
}
