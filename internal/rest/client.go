// Package rest is the client for the donor portal's HTTP API: message
// history, pagination and sends. The realtime channel is a separate
// collaborator; both feed the reconciler.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lifelink/commsync/internal/auth"
	"github.com/lifelink/commsync/internal/proto"
	"github.com/lifelink/commsync/internal/store"
)

// ErrUnauthorized marks a 401/403 response; the caller stops retrying
// and surfaces re-authentication.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the portal REST API with the profile's bearer token.
type Client struct {
	baseURL string
	creds   auth.Provider
	http    *http.Client
}

// New creates a REST client. The http.Client's default timeout handling
// is kept; per-call deadlines come from ctx.
func New(baseURL string, creds auth.Provider) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{},
	}
}

// FetchRecent returns the most recent page of a room's messages, newest
// first, as the backend serves them.
func (c *Client) FetchRecent(ctx context.Context, roomID string, pageSize int) ([]*store.Message, error) {
	return c.fetchPage(ctx, roomID, 1, pageSize)
}

// FetchOlder returns the given history page (1-based, newest page first),
// newest first within the page.
func (c *Client) FetchOlder(ctx context.Context, roomID string, page, pageSize int) ([]*store.Message, error) {
	return c.fetchPage(ctx, roomID, page, pageSize)
}

func (c *Client) fetchPage(ctx context.Context, roomID string, page, pageSize int) ([]*store.Message, error) {
	endpoint := fmt.Sprintf("%s/api/communities/%s/messages", c.baseURL, url.PathEscape(roomID))
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(pageSize)},
	}

	var body struct {
		Messages []proto.MessageData `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil, &body); err != nil {
		return nil, fmt.Errorf("fetch messages page %d: %w", page, err)
	}

	msgs := make([]*store.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		msg := m.ToStoreMessage()
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Send posts a new message and returns the server-confirmed copy.
func (c *Client) Send(ctx context.Context, roomID, text string) (*store.Message, error) {
	endpoint := fmt.Sprintf("%s/api/communities/%s/messages", c.baseURL, url.PathEscape(roomID))
	payload := map[string]string{"content": text}

	var body struct {
		Message proto.MessageData `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &body); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	msg := body.Message.ToStoreMessage()
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	return msg, nil
}

// FetchRooms lists the communities the account belongs to.
func (c *Client) FetchRooms(ctx context.Context) ([]store.Room, error) {
	var body struct {
		Communities []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"communities"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/communities", nil, &body); err != nil {
		return nil, fmt.Errorf("fetch communities: %w", err)
	}
	rooms := make([]store.Room, 0, len(body.Communities))
	for _, cm := range body.Communities {
		rooms = append(rooms, store.Room{ID: cm.ID, Name: cm.Name})
	}
	return rooms, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	cred, ok := c.creds.Credential()
	if !ok {
		return ErrUnauthorized
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
