package linear

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/rs/zerolog"
)

func testClient(endpoint string) *Client {
	return New(config.Config{
		LinearEndpoint:    endpoint,
		LinearAPIKey:      "key",
		HTTPTimeout:       5 * time.Second,
		BackoffInitial:    time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        5 * time.Millisecond,
		MaxRetries:        4,
	}, zerolog.Nop())
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func issuesBody(start, count int, hasNext bool, cursor string) string {
	nodes := make([]map[string]any, 0, count)
	for i := start; i < start+count; i++ {
		nodes = append(nodes, map[string]any{
			"id":         fmt.Sprintf("issue-%d", i),
			"identifier": fmt.Sprintf("ENG-%d", i),
			"title":      fmt.Sprintf("issue %d", i),
			"createdAt":  "2025-06-01T00:00:00Z",
			"updatedAt":  "2025-06-02T00:00:00Z",
			"team":       map[string]any{"key": "ENG"},
			"state":      map[string]any{"name": "Backlog", "type": "backlog"},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"issues": map[string]any{
				"nodes":    nodes,
				"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": cursor},
			},
		},
	})
	return string(b)
}

// Paginating through 250 issues in pages of 100 must survive a transient
// failure mid-stream: the failing page is retried with the same cursor, so
// exactly 250 distinct issues come back with no duplicates and no gaps.
func TestIssuesPaginationRetriesFailedPageInPlace(t *testing.T) {
	var requests int
	failedOnce := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		after, _ := req.Variables["after"].(string)
		switch after {
		case "":
			fmt.Fprint(w, issuesBody(0, 100, true, "c1"))
		case "c1":
			if !failedOnce {
				failedOnce = true
				http.Error(w, "upstream hiccup", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, issuesBody(100, 100, true, "c2"))
		case "c2":
			fmt.Fprint(w, issuesBody(200, 50, false, ""))
		default:
			t.Errorf("unexpected cursor %q", after)
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.SetPhase("initial_issues")

	seen := map[string]bool{}
	after := ""
	for {
		page, err := c.Issues(context.Background(), after, 100, nil, nil)
		if err != nil {
			t.Fatalf("Issues(after=%q): %v", after, err)
		}
		for _, i := range page.Issues {
			if seen[i.ID] {
				t.Fatalf("duplicate issue %s", i.ID)
			}
			seen[i.ID] = true
		}
		if !page.PageInfo.HasNextPage {
			break
		}
		after = page.PageInfo.EndCursor
	}

	if len(seen) != 250 {
		t.Fatalf("got %d issues, want 250", len(seen))
	}
	if requests != 4 {
		t.Fatalf("got %d requests, want 4 (3 pages + 1 retry)", requests)
	}
	// Every HTTP attempt counts, including the failed one.
	if got := c.QueryCounts()["initial_issues"]; got != 4 {
		t.Fatalf("query count = %d, want 4", got)
	}
	if c.Failures() != 0 {
		t.Fatalf("failure counter must reset after success, got %d", c.Failures())
	}
}

func TestAuthFailureIsFatalAndNotRetried(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "authentication required", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Issues(context.Background(), "", 100, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Fatalf("401 must be fatal, got %v", err)
	}
	if requests != 1 {
		t.Fatalf("fatal errors must not be retried, got %d requests", requests)
	}
}

func TestGraphQLRateLimitIsTransient(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprint(w, `{"errors":[{"message":"too many requests","extensions":{"code":"RATELIMITED"}}]}`)
			return
		}
		fmt.Fprint(w, issuesBody(0, 1, false, ""))
	}))
	defer srv.Close()

	page, err := testClient(srv.URL).Issues(context.Background(), "", 100, nil, nil)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(page.Issues) != 1 || requests != 2 {
		t.Fatalf("issues=%d requests=%d, want 1 and 2", len(page.Issues), requests)
	}
}

func TestGraphQLValidationErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors":[{"message":"unknown field","extensions":{"code":"GRAPHQL_VALIDATION_FAILED"}}]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Issues(context.Background(), "", 100, nil, nil)
	if !IsFatal(err) {
		t.Fatalf("validation errors must be fatal, got %v", err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Issues(context.Background(), "", 100, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if IsFatal(err) {
		t.Fatalf("exhausted transient errors stay transient, got %v", err)
	}
}

func TestProjectNotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"project":null}}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Project(context.Background(), "gone")
	if !IsFatal(err) {
		t.Fatalf("missing project must be fatal, got %v", err)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	c := testClient("http://unused")
	if d := c.delay(1); d != time.Millisecond {
		t.Fatalf("first delay = %v", d)
	}
	if d := c.delay(10); d != 5*time.Millisecond {
		t.Fatalf("delay must cap at the maximum, got %v", d)
	}
}
