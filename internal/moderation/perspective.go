// Package moderation оценивает токсичность текста через внешний API (Perspective).
// Любой сбой API приводит к нейтральной оценке 0: модерация никогда не блокирует публикацию.
package moderation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/UkralStul/kindwords-service/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultEndpoint - адрес метода comments:analyze.
const DefaultEndpoint = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"

// DefaultTimeout ограничивает одно обращение к API.
const DefaultTimeout = 3 * time.Second

// Result - оценка токсичности в диапазоне [0, 1].
type Result struct {
	ToxicityScore float64 `json:"toxicityScore"`
}

// Analyzer оценивает токсичность текста. Реализации не возвращают ошибок.
type Analyzer interface {
	AnalyzeCommentToxicity(ctx context.Context, text string) Result
}

// Nop всегда возвращает нулевую оценку; используется, когда ключ API не настроен.
type Nop struct {
	Metrics *metrics.Metrics
}

func (n Nop) AnalyzeCommentToxicity(ctx context.Context, text string) Result {
	n.Metrics.ModerationOutcome(metrics.ModerationSkipped, 0)
	return Result{}
}

// Config - параметры клиента.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// Languages по умолчанию ["en"].
	Languages []string
}

// Client обращается к Perspective API.
type Client struct {
	cfg     Config
	http    *http.Client
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewClient(cfg Config, httpClient *http.Client, log zerolog.Logger, m *metrics.Metrics) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en"}
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		log:     log.With().Str("component", "moderation").Logger(),
		metrics: m,
	}
}

type analyzeRequest struct {
	Comment             textEntry           `json:"comment"`
	Languages           []string            `json:"languages"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
}

type textEntry struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

// ErrNoScore - ответ API не содержит оценки TOXICITY.
var ErrNoScore = errors.New("response has no TOXICITY score")

// AnalyzeCommentToxicity возвращает оценку токсичности; при любой ошибке - 0.
func (c *Client) AnalyzeCommentToxicity(ctx context.Context, text string) Result {
	score, err := c.Analyze(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Msg("toxicity analysis failed, using neutral score")
		c.metrics.ModerationOutcome(metrics.ModerationUnavailable, 0)
		return Result{}
	}
	c.metrics.ModerationOutcome(metrics.ModerationOK, score)
	return Result{ToxicityScore: score}
}

// Analyze выполняет запрос и возвращает ошибку как есть.
func (c *Client) Analyze(ctx context.Context, text string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(analyzeRequest{
		Comment:             textEntry{Text: text},
		Languages:           c.cfg.Languages,
		RequestedAttributes: map[string]struct{}{"TOXICITY": {}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("key", c.cfg.APIKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error содержит адрес вместе с ключом API
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return 0, fmt.Errorf("moderation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("moderation API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	tox, ok := out.AttributeScores["TOXICITY"]
	if !ok {
		return 0, ErrNoScore
	}
	return clamp(tox.SummaryScore.Value), nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
