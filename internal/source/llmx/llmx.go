// Package llmx extracts facility fields from saved portal page text using
// Claude. It is the fallback pass for pages whose layout defeats the pattern
// extractor; the merge layer ranks its output below pattern extraction for
// identity fields.
package llmx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gardetrack/gardesync/internal/model"
	"github.com/gardetrack/gardesync/internal/resilience"
	"github.com/gardetrack/gardesync/pkg/anthropic"
)

const extractionPrompt = `Extract structured data from this daycare information as JSON with these fields:
- name (string)
- address (string)
- phone (string or null)
- type (string: "CPE", "Garderie", or "Milieu familial")
- subventionne (boolean)
- tarif (number, price per day)
- places_totales (number)
- places_poupons (number)
- places_18_mois_plus (number)
- description (string, the presentation text)
- horaires (object with lundi/mardi/mercredi/jeudi/vendredi/samedi/dimanche as keys)
- accessible (boolean, mobility accessible)
- website (string or null)
- email (string or null)

Output ONLY valid JSON, no markdown, no explanation.`

// Options configures the extractor.
type Options struct {
	Model        string
	MaxTokens    int64
	RequestsPerS float64
	PollInterval time.Duration
	// MaxRetries caps per-request retry attempts against the API.
	MaxRetries int
	// BreakerFailures and BreakerReset tune the circuit breaker that stops
	// a long page run from hammering a down API. Zero values use defaults.
	BreakerFailures int
	BreakerReset    time.Duration
}

// Extractor turns saved page text into source records via Claude.
type Extractor struct {
	client  anthropic.Client
	opts    Options
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// New creates an Extractor. Zero option fields get conservative defaults.
func New(client anthropic.Client, opts Options) *Extractor {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1500
	}
	if opts.RequestsPerS == 0 {
		opts.RequestsPerS = 2
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Second
	}

	log := zap.L().With(zap.String("component", "source.llmx"))

	retry := resilience.FromRetryConfig(opts.MaxRetries, 0, 0, 0, -1)
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")

	circuitCfg := resilience.FromCircuitConfig(opts.BreakerFailures, int(opts.BreakerReset.Seconds()))
	// Only API-health failures count toward opening the circuit. A page the
	// model rejects outright says nothing about whether the API is up.
	circuitCfg.ShouldTrip = resilience.IsTransient
	circuitCfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("anthropic circuit state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &Extractor{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerS), 1),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(circuitCfg),
		log:     log,
	}
}

// payload mirrors the JSON shape the prompt asks for. Pointer fields keep
// "model omitted it" distinct from an asserted zero.
type payload struct {
	Name         string            `json:"name"`
	Address      *string           `json:"address"`
	Phone        *string           `json:"phone"`
	Type         *string           `json:"type"`
	Subsidized   *bool             `json:"subventionne"`
	DailyRate    *float64          `json:"tarif"`
	TotalPlaces  *int              `json:"places_totales"`
	InfantPlaces *int              `json:"places_poupons"`
	ToddlerSpots *int              `json:"places_18_mois_plus"`
	Description  *string           `json:"description"`
	Hours        map[string]string `json:"horaires"`
	Accessible   *bool             `json:"accessible"`
	Website      *string           `json:"website"`
	Email        *string           `json:"email"`
}

var reFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// decode parses a model response, tolerating markdown code fences.
func decode(text string) (*payload, error) {
	jsonStr := text
	if m := reFence.FindStringSubmatch(text); m != nil {
		jsonStr = m[1]
	}
	var p payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &p); err != nil {
		return nil, eris.Wrap(err, "llmx: decode response")
	}
	return &p, nil
}

func (p *payload) toRecord(installationID string) model.SourceRecord {
	rec := model.SourceRecord{
		Kind:           model.SourceLLMExtracted,
		InstallationID: installationID,
		Name:           strings.TrimSpace(p.Name),

		Address:         trimmed(p.Address),
		Phone:           trimmed(p.Phone),
		Email:           trimmed(p.Email),
		Website:         trimmed(p.Website),
		Subsidized:      p.Subsidized,
		TotalCapacity:   p.TotalPlaces,
		InfantCapacity:  p.InfantPlaces,
		ToddlerCapacity: p.ToddlerSpots,
		Description:     trimmed(p.Description),
		Accessible:      p.Accessible,
	}
	if p.Type != nil {
		dt := model.DaycareType(strings.TrimSpace(*p.Type))
		rec.DaycareType = &dt
	}
	if p.DailyRate != nil && *p.DailyRate > 0 {
		rec.Price = model.Str(fmt.Sprintf("%.2f$/jour", *p.DailyRate))
	}
	if len(p.Hours) > 0 {
		hours := make(map[string]string, len(p.Hours))
		for day, span := range p.Hours {
			if span = strings.TrimSpace(span); span != "" {
				hours[strings.ToLower(day)] = span
			}
		}
		if len(hours) > 0 {
			rec.WeeklyHours = hours
		}
	}
	return rec
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// ExtractText runs one extraction request for one page's text.
func (e *Extractor) ExtractText(ctx context.Context, installationID, text string) (*model.SourceRecord, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "llmx: rate limiter wait")
	}

	req := anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(extractionPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: text},
		},
	}
	resp, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "llmx: extract %s", installationID)
	}
	resp.Usage.LogCost(e.opts.Model, "extract")

	raw := responseText(resp)
	p, err := decode(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "llmx: extract %s", installationID)
	}
	rec := p.toRecord(installationID)
	return &rec, nil
}

func responseText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// LoadDir extracts every .txt page in dir sequentially. Individual page
// failures are logged and skipped so one bad page does not sink the batch.
func (e *Extractor) LoadDir(ctx context.Context, dir string) ([]model.SourceRecord, error) {
	texts, err := readPageTexts(dir)
	if err != nil {
		return nil, err
	}

	records := make([]model.SourceRecord, 0, len(texts))
	failed := 0
	for id, text := range texts {
		rec, err := e.ExtractText(ctx, id, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// An open circuit means the API itself is down. Further pages
			// would only burn the retry budget, so stop the run.
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, eris.Wrap(err, "llmx: anthropic unavailable")
			}
			e.log.Warn("page extraction failed",
				zap.String("installation_id", id),
				zap.Error(err),
			)
			failed++
			continue
		}
		records = append(records, *rec)
	}

	e.log.Info("llm extraction complete",
		zap.Int("records", len(records)),
		zap.Int("failed", failed),
	)
	return records, nil
}

// ExtractBatch submits all pages as one message batch and waits for the
// results. A primer request warms the prompt cache before submission so every
// batch item reads the cached system prompt.
func (e *Extractor) ExtractBatch(ctx context.Context, dir string) ([]model.SourceRecord, error) {
	texts, err := readPageTexts(dir)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	system := anthropic.BuildCachedSystemBlocks(extractionPrompt)

	var primerText string
	for _, text := range texts {
		primerText = text
		break
	}
	if _, err := anthropic.PrimerRequest(ctx, e.client, anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: primerText}},
	}); err != nil {
		e.log.Warn("primer request failed, continuing without warm cache", zap.Error(err))
	}

	items := make([]anthropic.BatchRequestItem, 0, len(texts))
	for id, text := range texts {
		items = append(items, anthropic.BatchRequestItem{
			CustomID: id,
			Params: anthropic.MessageRequest{
				Model:     e.opts.Model,
				MaxTokens: e.opts.MaxTokens,
				System:    system,
				Messages:  []anthropic.Message{{Role: "user", Content: text}},
			},
		})
	}

	batch, err := e.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "llmx: create batch")
	}
	e.log.Info("batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("requests", len(items)),
	)

	if _, err := anthropic.PollBatch(ctx, e.client, batch.ID, anthropic.WithPollInterval(e.opts.PollInterval)); err != nil {
		return nil, eris.Wrapf(err, "llmx: wait for batch %s", batch.ID)
	}
	return e.collectBatch(ctx, batch.ID)
}

func (e *Extractor) collectBatch(ctx context.Context, batchID string) ([]model.SourceRecord, error) {
	iter, err := e.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, eris.Wrapf(err, "llmx: batch results %s", batchID)
	}
	result, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		return nil, eris.Wrapf(err, "llmx: collect batch %s", batchID)
	}

	records := make([]model.SourceRecord, 0, len(result.Succeeded))
	failed := len(result.Failures)
	for id, msg := range result.Succeeded {
		p, err := decode(responseText(msg))
		if err != nil {
			e.log.Warn("batch item undecodable",
				zap.String("installation_id", id),
				zap.Error(err),
			)
			failed++
			continue
		}
		records = append(records, p.toRecord(id))
	}

	e.log.Info("batch extraction complete",
		zap.Int("records", len(records)),
		zap.Int("failed", failed),
	)
	return records, nil
}

func readPageTexts(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "llmx: read dir %s", dir)
	}
	texts := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "llmx: read %s", entry.Name())
		}
		texts[strings.TrimSuffix(entry.Name(), ".txt")] = string(data)
	}
	return texts, nil
}
