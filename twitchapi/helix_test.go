package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Errorf("Client-Id = %q", got)
		}
		login := r.URL.Query().Get("login")
		if login != "somestreamer" {
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "12345", "login": login, "display_name": "SomeStreamer"}},
		})
	}))
	defer srv.Close()

	c := NewWithBase(srv.URL, "cid", srv.Client())

	id, err := c.UserID(context.Background(), "somestreamer")
	if err != nil {
		t.Fatalf("UserID: %v", err)
	}
	if id != "12345" {
		t.Errorf("id = %q", id)
	}

	_, err = c.UserID(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
}

func TestUserIDServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewWithBase(srv.URL, "cid", srv.Client())
	if _, err := c.UserID(context.Background(), "anyone"); err == nil {
		t.Fatal("expected error on 500")
	}
}
