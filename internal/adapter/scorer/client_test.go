package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/resilience"
)

func newTestClient(url string) *Client {
	return NewClient(config.Scorer{URL: url, APIKey: "test-key", Timeout: 5 * time.Second})
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Content != "fix the potholes on elm street" {
			t.Errorf("unexpected content %q", req.Content)
		}

		_ = json.NewEncoder(w).Encode(moderation.LayerBResult{
			AlignedDomain:  "infrastructure",
			AlignmentScore: 0.91,
			HarmRisk:       moderation.HarmLow,
			Feasibility:    0.8,
			Quality:        0.7,
			Decision:       moderation.LayerBApprove,
			Reasoning:      "constructive local proposal",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Classify(context.Background(), "fix the potholes on elm street")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if res.AlignmentScore != 0.91 {
		t.Errorf("alignment score = %v, want 0.91", res.AlignmentScore)
	}
	if res.Decision != moderation.LayerBApprove {
		t.Errorf("decision = %q, want approve", res.Decision)
	}
	if res.HarmRisk != moderation.HarmLow {
		t.Errorf("harm risk = %q, want low", res.HarmRisk)
	}
}

func TestClassify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Classify(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on 503, got nil")
	}
}

func TestClassify_BreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))

	ctx := context.Background()
	for range 2 {
		if _, err := c.Classify(ctx, "x"); err == nil {
			t.Fatal("expected error from failing server")
		}
	}

	// Third call should be rejected by the open breaker without hitting the server.
	_, err := c.Classify(ctx, "x")
	if err == nil {
		t.Fatal("expected breaker error")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok, err := newTestClient(srv.URL).Health(context.Background())
	if err != nil || !ok {
		t.Fatalf("Health = %v, %v; want true, nil", ok, err)
	}
}
