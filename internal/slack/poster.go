// Package slack posts ingestion summaries for human review.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/finledger/internal/ingest"
	"github.com/MikeSquared-Agency/finledger/internal/ledger"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxThreadIssues caps how many issues are listed in the reply thread.
const maxThreadIssues = 20

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// NotifyIngest posts the run summary and, when the run raised issues, lists
// them in a thread under it.
func (p *Poster) NotifyIngest(ctx context.Context, r *ingest.Report) error {
	ts, err := p.PostIngestSummary(ctx, r)
	if err != nil {
		return err
	}
	if len(r.Issues) == 0 {
		return nil
	}
	return p.PostThread(ctx, ts, formatIssues(r))
}

// PostIngestSummary posts the run summary and returns the message timestamp.
func (p *Poster) PostIngestSummary(ctx context.Context, r *ingest.Report) (string, error) {
	text := formatIngestMessage(r)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "run " + r.RunID.String(),
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	ts, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	p.logger.Info("posted ingest summary to slack", "ts", ts, "run_id", r.RunID)
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.post(ctx, body)
	return err
}

func (p *Poster) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatIngestMessage(r *ingest.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Ingestion %s* (%s)\n", r.Status, r.Mode)
	c := r.Counts
	fmt.Fprintf(&sb, "Periods: %d | Metrics: %d | Line items: %d\n", c.Periods, c.Metrics, c.LineItems)
	fmt.Fprintf(&sb, "Raw: %d metrics, %d line items\n", c.RawMetrics, c.RawLineItems)

	if len(r.Issues) > 0 {
		fmt.Fprintf(&sb, "*Reconciliation issues: %d*\n", len(r.Issues))
	} else if r.Status == ledger.RunOK {
		sb.WriteString("_Sources agree within tolerance._\n")
	}

	for _, f := range r.SourceErrors {
		fmt.Fprintf(&sb, ":warning: %s unreadable: %s\n", f.Source, f.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatIssues(r *ingest.Report) string {
	var sb strings.Builder
	for i, iss := range r.Issues {
		if i == maxThreadIssues {
			fmt.Fprintf(&sb, "... and %d more", len(r.Issues)-maxThreadIssues)
			break
		}
		d := iss.Detail
		fmt.Fprintf(&sb, "%d. %s %s: primary %.2f vs other %.2f (delta %.2f, tolerance %g)\n",
			i+1, iss.Period.Key(), iss.Metric, d.PrimaryValue, d.OtherValue, d.Delta, d.Tolerance)
	}
	return strings.TrimRight(sb.String(), "\n")
}
