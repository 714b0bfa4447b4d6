package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/db"
	"github.com/nijaru/tubeprompt/models"
)

type usagePayload struct {
	RequestID           string `json:"request_id"`
	EstimatedTokenCount int    `json:"estimated_token_count"`
}

// RelayUsageSignal passes the token estimate on: to event subscribers and,
// when configured, to the upstream usage webhook. Nothing is counted here.
func (d *Dispatcher) RelayUsageSignal(ctx context.Context, requestID string, tokens int) {
	const op = "Dispatcher.RelayUsageSignal"
	log := d.logger.WithFields(logrus.Fields{"op": op, "request_id": requestID, "tokens": tokens})

	d.publish(models.MsgUsageUpdated, requestID, models.UsageUpdated{EstimatedTokenCount: tokens})

	url := d.cfg.Usage.WebhookURL
	if url == "" {
		return
	}

	body, err := json.Marshal(usagePayload{RequestID: requestID, EstimatedTokenCount: tokens})
	if err != nil {
		log.WithError(err).Error("Failed to encode usage signal")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Error("Failed to build usage request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if token := d.preference(ctx, db.PrefToken, ""); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("Usage webhook unreachable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.WithField("status", resp.StatusCode).Warn("Usage webhook rejected signal")
		return
	}
	log.Debug("Usage signal forwarded")
}
