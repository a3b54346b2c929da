// internal/advisor/http.go
package advisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v5"
	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// HTTPConfig configures an OpenAI-compatible chat completion advisor.
type HTTPConfig struct {
	Name          string
	BaseURL       string
	Model         string
	APIKey        string
	Timeout       time.Duration
	RatePerMinute int
	MaxTries      uint
}

// HTTPAdvisor asks a chat completion endpoint for a JSON opinion.
type HTTPAdvisor struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

// NewHTTPAdvisor creates an advisor with its own rate limiter.
func NewHTTPAdvisor(cfg HTTPConfig, logger *zap.Logger) *HTTPAdvisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 20
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 2
	}
	return &HTTPAdvisor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.New(cfg.RatePerMinute, ratelimit.Per(time.Minute)),
		logger:  logger.Named("advisor").With(zap.String("provider", cfg.Name)),
		now:     time.Now,
	}
}

func (a *HTTPAdvisor) Name() string { return a.cfg.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type opinionPayload struct {
	Action             string   `json:"action"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	PotentialUpsidePct float64  `json:"potential_upside_pct"`
	RiskLevel          string   `json:"risk_level"`
	LossProbability    *float64 `json:"loss_probability"`
}

// Advise renders the prompt, calls the endpoint and parses the JSON answer.
func (a *HTTPAdvisor) Advise(ctx context.Context, req Request) (Opinion, error) {
	prompt, err := BuildPrompt(req, a.now())
	if err != nil {
		return Opinion{}, err
	}
	body, err := sonic.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return Opinion{}, fmt.Errorf("marshal chat request: %w", err)
	}

	operation := func() (string, error) {
		a.limiter.Take()
		return a.complete(ctx, body)
	}
	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(a.cfg.MaxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			a.logger.Debug("Retrying advisor call", zap.Error(err), zap.Duration("backoff", d))
		}),
	)
	if err != nil {
		return Opinion{}, err
	}
	return ParseOpinion(req.Kind, content)
}

func (a *HTTPAdvisor) complete(ctx context.Context, body []byte) (string, error) {
	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode/100 != 2 {
		return "", classifyHTTPError(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decode: %v", ErrMalformed, err))
	}
	if parsed.Error != nil {
		return "", classifyHTTPError(http.StatusBadRequest, []byte(parsed.Error.Message+" "+parsed.Error.Type))
	}
	if len(parsed.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("%w: no choices", ErrMalformed))
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyHTTPError maps an error reply to exhaustion, retryable or permanent failures.
func classifyHTTPError(status int, body []byte) error {
	text := strings.ToLower(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	if status == http.StatusPaymentRequired || isExhaustion(text) {
		return backoff.Permanent(fmt.Errorf("%w: http %d: %s", ErrExhausted, status, text))
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: http %d: %s", ErrUnavailable, status, text)
	}
	return backoff.Permanent(fmt.Errorf("advisor http %d: %s", status, text))
}

func isExhaustion(text string) bool {
	for _, marker := range []string{"insufficient_quota", "insufficient credit", "credit balance", "billing", "quota exceeded"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ParseOpinion extracts the JSON object from a model reply.
func ParseOpinion(kind Kind, content string) (Opinion, error) {
	raw := extractJSON(content)
	if raw == "" {
		return Opinion{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	var p opinionPayload
	if err := sonic.UnmarshalString(raw, &p); err != nil {
		return Opinion{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	op := Opinion{
		Action:             domain.ParseAction(p.Action),
		Confidence:         normalizeConfidence(p.Confidence),
		Reasoning:          strings.TrimSpace(p.Reasoning),
		PotentialUpsidePct: p.PotentialUpsidePct,
		RiskLevel:          strings.ToLower(strings.TrimSpace(p.RiskLevel)),
	}
	if kind == KindRisk {
		if p.LossProbability == nil {
			return Opinion{}, fmt.Errorf("%w: missing loss_probability", ErrMalformed)
		}
		op.LossProbability = math.Max(0, math.Min(100, *p.LossProbability))
	}
	return op, nil
}

// normalizeConfidence accepts 0..1 or 0..100 scales.
func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	return math.Max(0, math.Min(1, c))
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
