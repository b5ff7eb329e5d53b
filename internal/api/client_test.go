package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	logx "herald/pkg/logx"
)

func TestListClampsLimitAndDecodes(t *testing.T) {
	var gotLimit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathNotifications {
			http.NotFound(w, r)
			return
		}
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 2, "event_type": "alarm.fired", "created_at": "T2"},
			{"id": 1, "event_type": "permission.request.created", "created_at": "T1"},
		})
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items, err := c.List(context.Background(), 9999)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotLimit != strconv.Itoa(ListLimitMax) {
		t.Fatalf("limit sent = %q, want %d", gotLimit, ListLimitMax)
	}
	if len(items) != 2 || items[0].ID != 2 || items[1].ID != 1 {
		t.Fatalf("items = %+v", items)
	}

	if _, err := c.List(context.Background(), 0); err != nil {
		t.Fatalf("List default limit: %v", err)
	}
	if gotLimit != "100" {
		t.Fatalf("default limit sent = %q, want 100", gotLimit)
	}
}

func TestMarkReadHitsPerNotificationPath(t *testing.T) {
	var gotPath, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.MarkRead(context.Background(), 42); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if gotPath != "/notifications/42/read" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
}

func TestMeDecodesProfile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathMe {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 7, "email": "a@b.c", "permissions": []string{"permissions:approve"},
		})
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if p.ID != 7 || len(p.Permissions) != 1 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestOpenApprovalsConversation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathConversations || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["kind"] != "approvals" {
			t.Errorf("kind = %q, want approvals", body["kind"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 11, "kind": "approvals"})
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conv, err := c.OpenApprovalsConversation(context.Background())
	if err != nil {
		t.Fatalf("OpenApprovalsConversation: %v", err)
	}
	if conv.ID != 11 || conv.Kind != "approvals" {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty base_url accepted")
	}
}

func TestStatusErrorsSurfaceOperation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	c, err := New(Config{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.List(context.Background(), 10); err == nil {
		t.Fatal("403 list succeeded")
	}
	if err := c.MarkRead(context.Background(), 1); err == nil {
		t.Fatal("403 mark-read succeeded")
	}
	if _, err := c.Me(context.Background()); err == nil {
		t.Fatal("403 profile succeeded")
	}
}
