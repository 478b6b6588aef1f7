package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hunt-concierge/utils"
)

// Messenger is the chat network as the hunt engine sees it.
type Messenger interface {
	SendText(ctx context.Context, conversationID, text string) error
	SendStructured(ctx context.Context, conversationID string, payload any) error
	ResolveConversation(ctx context.Context, groupID string) (string, error)
	ListMembers(ctx context.Context, conversationID string) ([]string, error)
	AddMembers(ctx context.Context, conversationID string, participantIDs ...string) error
}

// BridgeClient implements Messenger against the messaging bridge's HTTP API.
type BridgeClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewBridgeClient(baseURL, token string, timeout time.Duration) *BridgeClient {
	return &BridgeClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: utils.NewHTTPClient(timeout),
	}
}

func (c *BridgeClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &bridgeStatusError{Code: resp.StatusCode, Body: string(msg)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}

// bridgeStatusError is a non-2xx answer from the bridge.
type bridgeStatusError struct {
	Code int
	Body string
}

func (e *bridgeStatusError) Error() string {
	return fmt.Sprintf("bridge returned status %d: %s", e.Code, e.Body)
}

func conversationPath(id string, rest ...string) string {
	return "/v1/conversations/" + url.PathEscape(id) + strings.Join(rest, "")
}

func (c *BridgeClient) SendText(ctx context.Context, conversationID, text string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"),
		map[string]any{"text": text}, nil)
}

func (c *BridgeClient) SendStructured(ctx context.Context, conversationID string, payload any) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"),
		map[string]any{"structured": payload}, nil)
}

func (c *BridgeClient) ResolveConversation(ctx context.Context, groupID string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(groupID), nil, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("bridge has no conversation for group %s", groupID)
	}
	return out.ID, nil
}

func (c *BridgeClient) ListMembers(ctx context.Context, conversationID string) ([]string, error) {
	var out struct {
		Members []string `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "/members"), nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// AddMembers reports ErrAlreadyMember when the bridge answers 409 or says
// the participant is already in the conversation.
func (c *BridgeClient) AddMembers(ctx context.Context, conversationID string, participantIDs ...string) error {
	err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/members"),
		map[string]any{"members": participantIDs}, nil)
	var se *bridgeStatusError
	if errors.As(err, &se) && (se.Code == http.StatusConflict || strings.Contains(strings.ToLower(se.Body), "already")) {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, conversationID)
	}
	return err
}
