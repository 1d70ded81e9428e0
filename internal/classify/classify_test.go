package classify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"hspack/internal/config"
	"hspack/internal/hscodes"
	"hspack/internal/rules"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	cfg, _ := config.Load()
	cfg.OpenRouterAPIKey = "test-key"
	cfg.OpenRouterBaseURL = "https://example.test/api/v1"
	cfg.OpenRouterRateRPS = 1000
	cfg.OpenRouterMaxRetries = 3

	vocab := hscodes.Default()
	client := NewClient(cfg, vocab, rules.NewEngine(vocab))
	client.httpClient = &http.Client{Transport: rt}
	return client
}

func chatReply(content string) *http.Response {
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	blob, _ := json.Marshal(payload)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(string(blob))),
		Header:     make(http.Header),
	}
}

func TestClassifyParsesAndCorrects(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/v1/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("missing bearer token: %q", got)
		}
		return chatReply("```json\n{\"isImportItem\":true,\"category\":\"Decor/artificial plants\",\"hsCode\":\"6702\",\"cleanDescription\":\"Ceramic vase\"}\n```"), nil
	})

	res, err := client.Classify(context.Background(), "Ceramic vase decorative 5 PCS", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.HsCode != "6913" {
		t.Fatalf("ceramic vase must be corrected to 6913: %+v", res)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("confidence must default to 0.9: %v", res.Confidence)
	}
	if res.AIRawResponse == "" {
		t.Fatal("raw model response must be preserved")
	}
}

func TestClassifyNonItemNormalized(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatReply(`{"isImportItem":false,"category":"Lighting equipment","hsCode":"9405","cleanDescription":"TIN NO 123456"}`), nil
	})

	res, err := client.Classify(context.Background(), "TIN NO 123456", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsImportItem {
		t.Fatal("non-item flag must survive")
	}
	if res.HsCode != "EXCLUDE" || res.Category != NonItemCategory {
		t.Fatalf("non-item must carry the exclusion sentinel: %+v", res)
	}
}

func TestClassifyDegenerateCodeCollapses(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatReply(`{"isImportItem":true,"category":"Other","hsCode":"9999.99","cleanDescription":"Wooden crate"}`), nil
	})

	res, err := client.Classify(context.Background(), "Wooden crate 3 PCS", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.HsCode != "9999" {
		t.Fatalf("9999.99 must collapse to the unknown sentinel: %+v", res)
	}
}

func TestClassifyInvalidJSONIsHardError(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatReply("The item looks like a lamp, I would file it under 9405."), nil
	})

	_, err := client.Classify(context.Background(), "Floor lamp 12 PCS", Options{})
	if err == nil {
		t.Fatal("prose output must be a hard error, never a fabricated result")
	}
}

func TestClassifyEmptyCompletionIsError(t *testing.T) {
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return chatReply(""), nil
	})
	if _, err := client.Classify(context.Background(), "Floor lamp", Options{}); err == nil {
		t.Fatal("empty completion must error")
	}
}

func TestClassifyMissingAPIKey(t *testing.T) {
	cfg, _ := config.Load()
	cfg.OpenRouterAPIKey = ""
	vocab := hscodes.Default()
	client := NewClient(cfg, vocab, rules.NewEngine(vocab))

	_, err := client.Classify(context.Background(), "Floor lamp", Options{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestClassifyRetriesRetryableStatus(t *testing.T) {
	attempt := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		attempt++
		if attempt == 1 {
			return &http.Response{
				StatusCode: http.StatusTooManyRequests,
				Body:       io.NopCloser(strings.NewReader(`{"error":"slow down"}`)),
				Header:     make(http.Header),
			}, nil
		}
		return chatReply(`{"isImportItem":true,"category":"Lighting equipment","hsCode":"9405","cleanDescription":"Floor lamp"}`), nil
	})

	res, err := client.Classify(context.Background(), "Floor standing lamp 12 PCS", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempt)
	}
	if res.HsCode != "9405" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClassifyCancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempt := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		attempt++
		cancel()
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(strings.NewReader(`{"error":"down"}`)),
			Header:     make(http.Header),
		}, nil
	})

	start := time.Now()
	_, err := client.Classify(ctx, "Floor lamp", Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempt != 1 {
		t.Fatalf("cancelled context must not retry, got %d attempts", attempt)
	}
	// The first backoff window is 250ms+; cancellation must cut it short.
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("cancellation must interrupt the backoff sleep, took %v", elapsed)
	}
}

func TestRateLimiterCancelledWait(t *testing.T) {
	limiter := NewRateLimiter(1)
	if err := limiter.WaitTurn(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := limiter.WaitTurn(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("cancelled wait must return promptly, took %v", elapsed)
	}
}

func TestClassifyNonRetryableStatusFailsFast(t *testing.T) {
	attempt := 0
	client := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		attempt++
		return &http.Response{
			StatusCode: http.StatusUnauthorized,
			Body:       io.NopCloser(strings.NewReader(`{"error":"bad key"}`)),
			Header:     make(http.Header),
		}, nil
	})

	if _, err := client.Classify(context.Background(), "Floor lamp", Options{}); err == nil {
		t.Fatal("401 must be a hard error")
	}
	if attempt != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", attempt)
	}
}
