package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tokenops/custody-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetryCount = 2
)

// BatchFinishedPayload is the JSON body posted when a batch reaches a
// terminal status.
type BatchFinishedPayload struct {
	BatchID     string `json:"batchId"`
	Status      string `json:"status"`
	TotalCount  int    `json:"totalCount"`
	Completed   int    `json:"completedCount"`
	Failed      int    `json:"failedCount"`
	SuccessRate string `json:"successRate"`
	FinishedAt  string `json:"finishedAt"`
}

// WebhookNotifier posts batch completion events to a configured URL.
// Delivery is best effort; a failed post is logged and dropped.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetryCount)

	return &WebhookNotifier{
		client: client,
		url:    strings.TrimSpace(url),
		logger: logger,
		now:    time.Now,
	}
}

func (n *WebhookNotifier) BatchFinished(ctx context.Context, batch *domain.BatchRequest, stats *domain.BatchStats) {
	if n == nil || n.url == "" || batch == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload := BatchFinishedPayload{
		BatchID:    batch.ID,
		Status:     batch.Status.String(),
		FinishedAt: n.now().UTC().Format(time.RFC3339),
	}
	if stats != nil {
		payload.TotalCount = stats.Total
		payload.Completed = stats.Completed
		payload.Failed = stats.Failed
		payload.SuccessRate = fmt.Sprintf("%.2f", stats.SuccessRate)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.logger.Warn("failed to deliver batch completion webhook",
			zap.String("batchId", batch.ID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		n.logger.Warn("batch completion webhook rejected",
			zap.String("batchId", batch.ID),
			zap.Int("status", resp.StatusCode()),
		)
	}
}
