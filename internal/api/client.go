package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"palaver/internal/models"
	"palaver/internal/session"
)

const defaultTimeout = 15 * time.Second

type tokenSource interface {
	Identity() (session.Identity, bool)
}

// Client is the bearer-authenticated REST client used for historical
// hydration and for the lookups triggered by notification resolution.
// The live channel never goes through here.
type Client struct {
	baseURL string
	tokens  tokenSource
	http    *http.Client
}

func NewClient(baseURL string, tokens tokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Conversations fetches the full conversation list, most recent first.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	if err := c.getJSON(ctx, "/api/messages/conversations", &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// Messages fetches the message history of a single conversation in
// server emission order.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	if err := c.getJSON(ctx, "/api/messages/"+url.PathEscape(conversationID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Post fetches a single post. Returns models.ErrNotFound if the post
// has been deleted since the reference was issued.
func (c *Client) Post(ctx context.Context, id string) (models.Post, error) {
	var post models.Post
	if err := c.getJSON(ctx, "/api/posts/"+url.PathEscape(id), &post); err != nil {
		return models.Post{}, err
	}
	return post, nil
}

// User fetches a single user profile.
func (c *Client) User(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := c.getJSON(ctx, "/api/users/"+url.PathEscape(id), &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if id, ok := c.tokens.Identity(); ok {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("GET %s: %w", path, models.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}

	return nil
}
