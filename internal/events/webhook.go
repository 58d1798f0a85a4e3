package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// larkHosts are webhook services that require the Lark/Feishu text
// envelope instead of the raw event body.
var larkHosts = map[string]bool{
	"open.larksuite.com": true,
	"open.feishu.cn":     true,
}

// IsLarkURL reports whether a webhook URL points at the Lark bot API.
func IsLarkURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return larkHosts[strings.ToLower(u.Hostname())]
}

// WebhookChannel POSTs events to one URL. Transport errors get a single
// retry; HTTP error statuses do not. Responses are discarded.
type WebhookChannel struct {
	url      string
	lark     bool
	client   *http.Client
	failures prometheus.Counter
}

// NewWebhookChannel builds a channel for one destination URL.
func NewWebhookChannel(rawURL string, timeout time.Duration, failures prometheus.Counter) *WebhookChannel {
	return &WebhookChannel{
		url:      rawURL,
		lark:     IsLarkURL(rawURL),
		client:   &http.Client{Timeout: timeout},
		failures: failures,
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Deliver posts ev. At-most-once per attempt; the retry only covers
// transport failures where no response was received.
func (c *WebhookChannel) Deliver(ctx context.Context, ev Event) error {
	body, err := c.payload(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("webhook status %d", resp.StatusCode)
		} else {
			lastErr = nil
		}
		break
	}
	if lastErr != nil {
		c.failures.Inc()
		return fmt.Errorf("deliver to %s: %w", c.url, lastErr)
	}
	return nil
}

func (c *WebhookChannel) payload(ev Event) ([]byte, error) {
	if !c.lark {
		return json.Marshal(ev)
	}
	envelope := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": renderText(ev)},
	}
	return json.Marshal(envelope)
}

// renderText flattens an event to the chat-message form used for Lark.
// Keys are sorted so output is stable.
func renderText(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(string(ev.Level)), ev.Kind, ev.Message)

	if len(ev.Details) > 0 {
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, ev.Details[k])
		}
	}
	if len(ev.Metrics) > 0 {
		keys := make([]string, 0, len(ev.Metrics))
		for k := range ev.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%g", k, ev.Metrics[k])
		}
	}
	return b.String()
}
