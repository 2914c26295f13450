package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lifelink/commsync/internal/auth"
	"github.com/lifelink/commsync/internal/store"
)

func testCreds() auth.Provider {
	return &auth.StaticProvider{
		Cred: auth.Credential{
			Token:     "tok-123",
			Identity:  store.Sender{ID: "u1", Kind: store.AccountIndividual, FirstName: "Ana"},
			ExpiresAt: time.Now().Add(time.Hour),
		},
		OK: true,
	}
}

func TestFetchRecent(t *testing.T) {
	var gotAuth, gotPage, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/communities/room-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotPage = r.URL.Query().Get("page")
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{
					"id":          "m2",
					"communityId": "room-1",
					"sender":      map[string]any{"id": "u2", "accountType": "organization", "name": "City Blood Bank"},
					"content":     "drive this saturday",
					"createdAt":   2000,
				},
				{
					"id":        "m1",
					"sender":    map[string]any{"id": "u1", "firstName": "Ana", "lastName": "Reis"},
					"content":   "count me in",
					"createdAt": 1000,
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	msgs, err := c.FetchRecent(context.Background(), "room-1", 50)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPage != "1" || gotLimit != "50" {
		t.Errorf("page=%s limit=%s, want 1/50", gotPage, gotLimit)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m2" || msgs[0].Sender.Kind != store.AccountOrganization {
		t.Errorf("first message decoded wrong: %+v", msgs[0])
	}
	// RoomID filled in when the payload omits it.
	if msgs[1].RoomID != "room-1" {
		t.Errorf("RoomID = %q, want room-1", msgs[1].RoomID)
	}
}

func TestFetchOlderPageParam(t *testing.T) {
	var gotPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	msgs, err := c.FetchOlder(context.Background(), "room-1", 3, 50)
	if err != nil {
		t.Fatalf("FetchOlder: %v", err)
	}
	if gotPage != "3" {
		t.Errorf("page = %s, want 3", gotPage)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["content"] != "hello" {
			t.Errorf("content = %q", body["content"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{
				"id":          "srv-1",
				"communityId": "room-1",
				"sender":      map[string]any{"id": "u1", "firstName": "Ana", "lastName": "Reis"},
				"content":     "hello",
				"createdAt":   5000,
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	msg, err := c.Send(context.Background(), "room-1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != "srv-1" || msg.Body != "hello" || msg.CreatedAt != 5000 {
		t.Errorf("confirmed message: %+v", msg)
	}
}

func TestUnauthorizedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	_, err := c.FetchRecent(context.Background(), "room-1", 50)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestNoCredential(t *testing.T) {
	c := New("http://unused", &auth.StaticProvider{})
	_, err := c.FetchRecent(context.Background(), "room-1", 50)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	_, err := c.Send(context.Background(), "room-1", "x")
	if err == nil {
		t.Fatal("expected error for 500")
	}
}

func TestFetchRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/communities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"communities": []map[string]any{
				{"id": "room-1", "name": "Donors North"},
				{"id": "room-2", "name": "Plasma Group"},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, testCreds())
	rooms, err := c.FetchRooms(context.Background())
	if err != nil {
		t.Fatalf("FetchRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].Name != "Donors North" {
		t.Errorf("rooms = %+v", rooms)
	}
}
