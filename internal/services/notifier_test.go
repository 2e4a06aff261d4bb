package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestWebhookNotifier_DeliversOnClose(t *testing.T) {
	var mu sync.Mutex
	var received []webhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Failed to decode webhook body: %v", err)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, 600)
	n.Notify(context.Background(), Toast{Title: "Task created", Description: `"Plan" was created`})
	n.Notify(context.Background(), Toast{Title: "Error", Variant: ToastDestructive})
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("Expected 2 webhook calls, got %d", len(received))
	}
	if received[0].Text != "*Task created*\n\"Plan\" was created" {
		t.Errorf("Unexpected text %q", received[0].Text)
	}
	if received[1].Text != "*Error*" || received[1].Variant != ToastDestructive {
		t.Errorf("Unexpected payload %+v", received[1])
	}

	// no-op after close
	n.Notify(context.Background(), Toast{Title: "late"})
}

func TestMultiNotifier(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}

	MultiNotifier{a, nil, b}.Notify(context.Background(), Toast{Title: "hello"})

	if a.last().Title != "hello" || b.last().Title != "hello" {
		t.Errorf("Expected both notifiers to receive the toast, got %+v and %+v", a.last(), b.last())
	}
}
