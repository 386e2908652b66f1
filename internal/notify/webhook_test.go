package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tokenops/custody-engine/internal/domain"
	"go.uber.org/zap"
)

func TestWebhookNotifierPostsPayload(t *testing.T) {
	t.Parallel()

	var got BatchFinishedPayload
	received := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	notifier := NewWebhookNotifier(srv.URL, zap.NewNop())

	batch := &domain.BatchRequest{
		ID:         "4f2a9a1e-8f7b-4a4f-9e0e-1d8a2b3c4d5e",
		TotalCount: 3,
		Status:     domain.BatchStatusDone,
	}
	stats := &domain.BatchStats{Total: 3, Completed: 2, Failed: 1, SuccessRate: 66.67}

	notifier.BatchFinished(context.Background(), batch, stats)

	select {
	case <-received:
	default:
		t.Fatal("webhook was not delivered")
	}

	if got.BatchID != batch.ID {
		t.Errorf("BatchID = %s, want %s", got.BatchID, batch.ID)
	}
	if got.Status != "DONE" {
		t.Errorf("Status = %s, want DONE", got.Status)
	}
	if got.Completed != 2 || got.Failed != 1 {
		t.Errorf("counts = %d/%d, want 2/1", got.Completed, got.Failed)
	}
}

func TestWebhookNotifierNoURLIsNoop(t *testing.T) {
	t.Parallel()

	notifier := NewWebhookNotifier("", zap.NewNop())
	notifier.BatchFinished(context.Background(), &domain.BatchRequest{ID: "x"}, nil)
}

func TestWebhookNotifierServerErrorIsContained(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	notifier := NewWebhookNotifier(srv.URL, zap.NewNop())
	notifier.client.SetRetryCount(0)

	batch := &domain.BatchRequest{
		ID:     "batch-err",
		Status: domain.BatchStatusError,
	}
	notifier.BatchFinished(context.Background(), batch, &domain.BatchStats{Total: 1})
}
