package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"murmur/internal/config"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	svc := NewService(config.Notifications{})
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("empty topic should produce noop service, got %T", svc)
	}
	if err := svc.NotifyMeetingCompleted(context.Background(), "m1", 60); err != nil {
		t.Fatalf("noop should never fail: %v", err)
	}
}

func TestCompletedNotification(t *testing.T) {
	var gotTitle, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
	}))
	t.Cleanup(server.Close)

	svc := NewService(config.Notifications{NtfyTopic: server.URL, Completed: true})
	if err := svc.NotifyMeetingCompleted(context.Background(), "bot-1", 125); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(gotTitle, "Meeting Ready") {
		t.Fatalf("title: %q", gotTitle)
	}
	if !strings.Contains(gotBody, "bot-1") {
		t.Fatalf("body: %q", gotBody)
	}
}

func TestEventTogglesSuppressSends(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	t.Cleanup(server.Close)

	svc := NewService(config.Notifications{NtfyTopic: server.URL, Completed: false, Failed: true})
	if err := svc.NotifyMeetingCompleted(context.Background(), "m1", 10); err != nil {
		t.Fatalf("suppressed event should not error: %v", err)
	}
	if hits != 0 {
		t.Fatal("completed notifications are disabled")
	}
	if err := svc.NotifyMeetingFailed(context.Background(), "m1", "transcriber failed"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("failed notification should send, hits=%d", hits)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden topic", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	svc := NewService(config.Notifications{NtfyTopic: server.URL, Discarded: true})
	if err := svc.NotifyMeetingDiscarded(context.Background(), "m1"); err == nil {
		t.Fatal("ntfy error should surface")
	}
}
