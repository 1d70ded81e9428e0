// Package classify adapts a chat-completion model into the HS classifier
// contract: one line of packing-list text in, one normalized
// ClassificationResult out, or a hard error. The model is constrained to the
// closed code vocabulary and every response passes through the assessor rules
// engine, so the AI path and the rules-only fallback produce identical
// downstream invariants.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"hspack/internal"
	"hspack/internal/config"
	"hspack/internal/hscodes"
	"hspack/internal/rules"
)

// NonItemCategory is forced onto responses where the model decided the line
// is not a physical import good.
const NonItemCategory = "Non-item"

// ErrMissingAPIKey distinguishes a configuration error from transient API
// failures; it is never worth retrying.
var ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY is not set")

// Options carries optional context about the line being classified.
type Options struct {
	Country string
	Unit    string
}

// Classifier is the single suspension point of the per-item loop. The
// orchestrator falls back to the rules-only path on any error.
type Classifier interface {
	Classify(ctx context.Context, description string, opts Options) (internal.ClassificationResult, error)
}

type Client struct {
	cfg          config.Config
	vocab        *hscodes.Vocabulary
	engine       *rules.Engine
	httpClient   *http.Client
	limiter      *RateLimiter
	systemPrompt string
}

func NewClient(cfg config.Config, vocab *hscodes.Vocabulary, engine *rules.Engine) *Client {
	return &Client{
		cfg:          cfg,
		vocab:        vocab,
		engine:       engine,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.OpenRouterTimeoutMs) * time.Millisecond},
		limiter:      NewRateLimiter(cfg.OpenRouterRateRPS),
		systemPrompt: buildSystemPrompt(vocab),
	}
}

func buildSystemPrompt(vocab *hscodes.Vocabulary) string {
	allowed := strings.Join(vocab.AllowedCodes(), ", ")
	return `You are a customs assessor. You NEVER invent HS codes. You choose ONLY from the allowed list.

Step 1 - Is this a physical import item?
- If the line is: document title, address, phone, date, "Packing List", "SQM" (unit only), "TIN NO", company name, "Unspecified item", "Geographical area", or any header/metadata -> answer NO.
- If it describes a tangible product that can be imported (lamp, chair, wallpaper, fan, etc.) -> answer YES.

Step 2 - If YES: What is the product? Write one short clean description (e.g. "Floor standing lamp", "Cafe chair").

Step 3 - Assign ONE category from: Lighting equipment, Furniture, Chairs & seating, Decor/artificial plants, HVAC (AC/fans), Textile/wallpaper, Hardware (handles/fittings), Decorative ceramics, Electrical equipment, Other.

Step 4 - Choose HS code ONLY from this list (no other codes allowed):
` + allowed + `
Use format 9405 or 9405.10. For "Unclassified" real items use 9999. For non-items use EXCLUDE.

Rules (HS rulebook - do not guess by "meaning"):
- Lamps/lights -> 9405. Chairs, sofas, stools -> 9401. Tables, cabinets, shelves -> 9403.
- Artificial plants, flowers -> 6702. Sculptures, statuary -> 9703 (NOT 6702).
- Wallpaper, wall coverings -> 4814 (NOT 9404; 9404 is bedding/mattress).
- Ceramic vases, decorative ceramics -> 6913 (NOT 6702).
- AC units -> 8415. Fans -> 8414. Fountain pumps / water features -> 8413.
- Avoid 9999 unless the item is truly unclear; prefer a specific chapter when possible.
- Never use 0000.00 or 9999.99. Never invent a code not in the list.

Return ONLY valid JSON, no markdown:
{"isImportItem":true|false,"category":"Category Name","hsCode":"XXXX" or "EXCLUDE","cleanDescription":"Short product description"}`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var fencePattern = regexp.MustCompile("^```(?:json)?\\s*|\\s*```$")

// Classify sends one line to the model and returns the normalized,
// rule-corrected result. Failures are surfaced as errors, never as partial
// classifications.
func (c *Client) Classify(ctx context.Context, description string, opts Options) (internal.ClassificationResult, error) {
	if strings.TrimSpace(c.cfg.OpenRouterAPIKey) == "" {
		return internal.ClassificationResult{}, ErrMissingAPIKey
	}

	userContent := fmt.Sprintf("Line from packing list: %q", description)
	if opts.Country != "" {
		userContent += "\nCountry of origin: " + opts.Country
	}
	if opts.Unit != "" {
		userContent += "\nUnit: " + opts.Unit
	}

	content, err := c.complete(ctx, userContent)
	if err != nil {
		return internal.ClassificationResult{}, err
	}

	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(content, ""))
	var parsed internal.ClassificationResult
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return internal.ClassificationResult{}, fmt.Errorf("invalid JSON from model: %s", content)
	}

	// Normalize before the rulebook: non-items always carry the exclusion
	// sentinel, and the forbidden degenerate codes collapse to unknown.
	if !parsed.IsImportItem {
		parsed.HsCode = c.vocab.ExcludedCode()
		parsed.Category = NonItemCategory
	}
	if parsed.HsCode == "9999.99" || parsed.HsCode == "0000.00" {
		parsed.HsCode = c.vocab.UnknownCode()
	}

	final := c.engine.Apply(strings.TrimSpace(description), parsed)
	if final.Confidence == 0 {
		final.Confidence = 0.9
	}
	final.AIRawResponse = content
	return final, nil
}

func (c *Client) complete(ctx context.Context, userContent string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.OpenRouterModel,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: userContent},
		},
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.OpenRouterBaseURL, "/") + "/chat/completions"
	maxAttempts := c.cfg.OpenRouterMaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("HTTP-Referer", c.cfg.AppReferer)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(backoff):
				}
				lastErr = fmt.Errorf("openrouter status %d", resp.StatusCode)
				continue
			}
			return "", fmt.Errorf("openrouter api error: status=%d body=%s", resp.StatusCode, string(body))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", err
		}
		if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
			return "", errors.New("empty response from model")
		}
		return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
	}

	if lastErr == nil {
		lastErr = errors.New("openrouter request failed")
	}
	return "", lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
