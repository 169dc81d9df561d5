package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	recist "github.com/recist/recist/internal/model"
)

// LogsAdapter speaks LogQL over Loki's HTTP query range endpoint. No
// example in the retrieval pack imports a Loki client library, so this
// follows the raw net/http idiom the pack itself uses for backends
// without an ecosystem Go client (platformbuilds-mirador-rca's Weaviate
// repo, kube-rca-backend's own agent HTTP client).
type LogsAdapter struct {
	baseURL string
	client  *http.Client
}

func NewLogsAdapter(baseURL string) *LogsAdapter {
	return &LogsAdapter{baseURL: baseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

type lokiResponse struct {
	Data struct {
		Result []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange fetches log lines for the given LogQL selector over the
// window ending now.
func (l *LogsAdapter) QueryRange(ctx context.Context, logQL string, window time.Duration) ([]recist.LogLine, error) {
	var lines []recist.LogLine
	err := withRetry(ctx, isRetryable, func(ctx context.Context) error {
		end := time.Now()
		q := url.Values{}
		q.Set("query", logQL)
		q.Set("start", strconv.FormatInt(end.Add(-window).UnixNano(), 10))
		q.Set("end", strconv.FormatInt(end.UnixNano(), 10))
		q.Set("limit", "500")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/loki/api/v1/query_range?%s", l.baseURL, q.Encode()), nil)
		if err != nil {
			return &recist.BackendUnavailable{Backend: "loki", Op: "QueryRange", Err: err}
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return classify(err, "loki", "QueryRange")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &recist.BackendUnavailable{Backend: "loki", Op: "QueryRange", Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		var body lokiResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &recist.ParseError{Backend: "loki", Op: "QueryRange", Err: err}
		}
		for _, stream := range body.Data.Result {
			for _, v := range stream.Values {
				ns, err := strconv.ParseInt(v[0], 10, 64)
				if err != nil {
					continue
				}
				lines = append(lines, recist.LogLine{
					Time:      time.Unix(0, ns),
					Container: stream.Stream["container"],
					Message:   v[1],
					Level:     stream.Stream["level"],
				})
			}
		}
		return nil
	})
	return lines, err
}
