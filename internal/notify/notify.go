// Package notify delivers a single batch-outcome event to a webhook at
// end of run. Discord and Slack URLs get their native payload shapes;
// anything else gets plain JSON. Delivery failure is logged and never
// fatal.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/backmassage/transmux/internal/display"
	"github.com/backmassage/transmux/internal/logging"
)

// BatchOutcome summarizes one finished batch.
type BatchOutcome struct {
	BatchID    string
	Successful int
	Failed     int
	Skipped    int
	SpaceSaved int64
	Duration   time.Duration
}

// Notifier posts batch outcomes to a webhook URL. A Notifier with an
// empty URL is valid and does nothing.
type Notifier struct {
	url    string
	log    *logging.Logger
	client *http.Client
}

func New(url string, log *logging.Logger) *Notifier {
	return &Notifier{
		url:    url,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifyBatch sends the outcome. Errors are logged, not returned; the
// pipeline's result never depends on webhook delivery.
func (n *Notifier) NotifyBatch(o BatchOutcome) {
	if n.url == "" {
		return
	}

	var payload any
	switch {
	case strings.Contains(strings.ToLower(n.url), "discord"):
		payload = discordPayload(o)
	case strings.Contains(strings.ToLower(n.url), "slack"):
		payload = slackPayload(o)
	default:
		payload = genericPayload(o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("Cannot encode webhook payload: %v", err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Warn("Webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		n.log.Warn("Webhook returned status %d", resp.StatusCode)
		return
	}
	n.log.Debug("Batch outcome notification sent")
}

func summaryText(o BatchOutcome) string {
	title := "Batch completed successfully"
	if o.Failed > 0 {
		title = "Batch completed with errors"
	}
	return fmt.Sprintf(
		"%s\n\nSuccessful: %d\nFailed: %d\nSkipped: %d\nDuration: %s\nSpace saved: %s",
		title, o.Successful, o.Failed, o.Skipped,
		display.FormatDuration(o.Duration), display.FormatBytes(o.SpaceSaved))
}

func discordPayload(o BatchOutcome) map[string]any {
	color := 0x2ecc71
	if o.Failed > 0 {
		color = 0xf39c12
	}
	return map[string]any{
		"username": "Transmux",
		"embeds": []map[string]any{{
			"title":       "Transmux batch finished",
			"description": summaryText(o),
			"color":       color,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"footer":      map[string]any{"text": "Transmux " + o.BatchID},
		}},
	}
}

func slackPayload(o BatchOutcome) map[string]any {
	emoji := ":white_check_mark:"
	if o.Failed > 0 {
		emoji = ":warning:"
	}
	return map[string]any{
		"username": "Transmux",
		"blocks": []map[string]any{{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": fmt.Sprintf("%s *Transmux batch finished*\n%s", emoji, summaryText(o)),
			},
		}},
	}
}

func genericPayload(o BatchOutcome) map[string]any {
	return map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"source":      "transmux",
		"batch_id":    o.BatchID,
		"successful":  o.Successful,
		"failed":      o.Failed,
		"skipped":     o.Skipped,
		"space_saved": o.SpaceSaved,
		"duration_s":  o.Duration.Seconds(),
	}
}
