// Package notifier sends run summaries to chat webhooks.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// Summary is the digest of one run sent to a Notifier.
type Summary struct {
	Status      string
	Groups      []string
	Selected    int
	Fetched     int
	UpToDate    int
	Failed      int
	Gaps        int
	GroupErrors int
	Links       int
	Bytes       int64
	Duration    time.Duration
}

// Message renders s as a short chat message.
func (s Summary) Message() string {
	var b strings.Builder

	fmt.Fprintf(&b, "**genome_downloader run %s** (%s)\n", s.Status, s.Duration.Round(time.Second))

	if len(s.Groups) > 0 {
		fmt.Fprintf(&b, "groups: %s\n", strings.Join(s.Groups, ", "))
	}

	fmt.Fprintf(&b, "selected: %d, fetched: %d (%s), up to date: %d, failed: %d\n",
		s.Selected, s.Fetched, humanize.Bytes(uint64(s.Bytes)), s.UpToDate, s.Failed)

	if s.Gaps > 0 || s.GroupErrors > 0 {
		fmt.Fprintf(&b, "coverage gaps: %d, failed groups: %d\n", s.Gaps, s.GroupErrors)
	}

	if s.Links > 0 {
		fmt.Fprintf(&b, "links: %d\n", s.Links)
	}

	return strings.TrimSuffix(b.String(), "\n")
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
