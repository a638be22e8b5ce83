package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backmassage/transmux/internal/config"
	"github.com/backmassage/transmux/internal/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ColorMode = config.ColorNever
	log, err := logging.NewLogger(&cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func testOutcome() BatchOutcome {
	return BatchOutcome{
		BatchID:    "abc-123",
		Successful: 3,
		Failed:     1,
		Skipped:    2,
		SpaceSaved: 1024 * 1024 * 1024,
		Duration:   90 * time.Second,
	}
}

// capture spins up a webhook endpoint and returns the decoded payload
// after NotifyBatch hits it. urlSuffix steers payload-shape detection.
func capture(t *testing.T, urlSuffix string) map[string]any {
	t.Helper()
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	n := New(srv.URL+urlSuffix, testLogger(t))
	n.NotifyBatch(testOutcome())

	if body == nil {
		t.Fatal("webhook endpoint never called")
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return payload
}

func TestNotifyBatch_Generic(t *testing.T) {
	payload := capture(t, "/hook")
	if payload["source"] != "transmux" {
		t.Errorf("source = %v, want transmux", payload["source"])
	}
	if payload["successful"] != float64(3) || payload["failed"] != float64(1) {
		t.Errorf("counts = %v/%v, want 3/1", payload["successful"], payload["failed"])
	}
	if payload["batch_id"] != "abc-123" {
		t.Errorf("batch_id = %v, want abc-123", payload["batch_id"])
	}
}

func TestNotifyBatch_Discord(t *testing.T) {
	payload := capture(t, "/discord/webhook")
	embeds, ok := payload["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("embeds = %v, want one embed", payload["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["description"] == "" {
		t.Error("embed description is empty")
	}
	// One failure in the outcome selects the warning color.
	if embed["color"] != float64(0xf39c12) {
		t.Errorf("color = %v, want warning color", embed["color"])
	}
}

func TestNotifyBatch_Slack(t *testing.T) {
	payload := capture(t, "/slack/services/T000/B000")
	blocks, ok := payload["blocks"].([]any)
	if !ok || len(blocks) != 1 {
		t.Fatalf("blocks = %v, want one section block", payload["blocks"])
	}
}

func TestNotifyBatch_EmptyURL(t *testing.T) {
	// Must be a no-op, not a crash.
	New("", testLogger(t)).NotifyBatch(testOutcome())
}

func TestNotifyBatch_ServerErrorIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	// Failure is logged, never returned or panicked.
	New(srv.URL, testLogger(t)).NotifyBatch(testOutcome())
}
