package triage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/llm"
	"github.com/catherinevee/driftcert/internal/logger"
	"github.com/catherinevee/driftcert/internal/metrics"
	"github.com/catherinevee/driftcert/internal/models"
	"github.com/catherinevee/driftcert/internal/store"
)

const maxBatchSize = 10

// Engine categorises a run's sanitised deltas via the LLM, one batch in
// flight at a time, with a rule-based fallback when the model cannot
// produce a usable response.
type Engine struct {
	log    logger.Logger
	store  *store.Store
	client llm.Client
}

func NewEngine(st *store.Store, client llm.Client) *Engine {
	return &Engine{
		log:    logger.New("triage"),
		store:  st,
		client: client,
	}
}

// Run loads the redacted bundle, deduplicates and batches its deltas, calls
// the categoriser per batch, merges the buckets and persists the result.
func (e *Engine) Run(ctx context.Context, runID string) (*models.LLMOutput, error) {
	bundle, err := e.store.GetLatestContextBundle(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load context bundle: %w", err)
	}

	deltas := dedupe(bundle.Deltas)
	output := &models.LLMOutput{
		High:            []models.TriagedDelta{},
		Medium:          []models.TriagedDelta{},
		Low:             []models.TriagedDelta{},
		AllowedVariance: []models.TriagedDelta{},
	}

	if len(deltas) > 0 {
		schema, err := compileResponseSchema()
		if err != nil {
			return nil, fmt.Errorf("failed to compile response schema: %w", err)
		}

		byID := make(map[string]*models.Delta, len(deltas))
		for i := range deltas {
			byID[deltas[i].ID] = &deltas[i]
		}
		placed := make(map[string]bool, len(deltas))

		for _, batch := range batches(deltas) {
			resp, batchErr := e.categorise(ctx, schema, bundle.Meta, batch)
			if batchErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.log.Warn("batch categorisation failed, using rule-based fallback",
					logger.String("run_id", runID),
					logger.Int("batch_size", len(batch)),
					logger.Err(batchErr))
				resp = ruleFallback(batch)
				output.Fallback = true
				metrics.LLMBatchFallbacks.Inc()
			}
			mergeBuckets(output, resp, byID, placed)

			// Every input delta ends up in exactly one bucket. A valid
			// response may still omit items; those get the rule-based
			// categorisation instead of vanishing.
			if missing := unplaced(batch, placed); len(missing) > 0 {
				e.log.Warn("response omitted deltas, rule-categorising the remainder",
					logger.String("run_id", runID),
					logger.Int("omitted", len(missing)))
				mergeBuckets(output, ruleFallback(missing), byID, placed)
			}
		}
	}

	sortBuckets(output)
	output.Summary = summarise(bundle, output)

	if err := e.store.SaveLLMOutput(ctx, runID, output); err != nil {
		return nil, fmt.Errorf("failed to save llm output: %w", err)
	}

	e.log.Info("triage complete",
		logger.String("run_id", runID),
		logger.Int("total", output.Summary.TotalDrifts),
		logger.Int("high", output.Summary.HighRisk),
		logger.Int("medium", output.Summary.MediumRisk),
		logger.Int("low", output.Summary.LowRisk),
		logger.Any("fallback", output.Fallback))

	return output, nil
}

// categorise issues a single in-flight completion for one batch
func (e *Engine) categorise(ctx context.Context, schema *jsonschema.Schema, meta models.BundleMeta, batch []models.Delta) (*batchResponse, error) {
	text, err := e.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    buildPrompt(meta.ServiceID, meta.Environment, batch),
		MaxTokens: 8000,
	})
	if err != nil {
		return nil, err
	}
	return parseResponse(schema, text)
}

// dedupe drops deltas that address the same (file, locator, old, new)
// tuple, keeping the first occurrence.
func dedupe(deltas []models.Delta) []models.Delta {
	type key struct {
		file    string
		locator string
		old     string
		new_    string
	}
	seen := make(map[key]bool)
	out := make([]models.Delta, 0, len(deltas))
	for _, d := range deltas {
		k := key{d.File, d.Locator.Value, models.StrOrEmpty(d.Old), models.StrOrEmpty(d.New)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}

// batches groups deltas by file, splitting oversized groups
func batches(deltas []models.Delta) [][]models.Delta {
	byFile := make(map[string][]models.Delta)
	files := make([]string, 0)
	for _, d := range deltas {
		if _, seen := byFile[d.File]; !seen {
			files = append(files, d.File)
		}
		byFile[d.File] = append(byFile[d.File], d)
	}
	sort.Strings(files)

	var out [][]models.Delta
	for _, file := range files {
		group := byFile[file]
		for len(group) > maxBatchSize {
			out = append(out, group[:maxBatchSize])
			group = group[maxBatchSize:]
		}
		if len(group) > 0 {
			out = append(out, group)
		}
	}
	return out
}

// ruleFallback categorises a batch without the LLM: credential-shaped keys
// go high, policy-allowed variances stay allowed, network-shaped keys go
// medium, everything else low.
func ruleFallback(batch []models.Delta) *batchResponse {
	resp := &batchResponse{}
	for _, d := range batch {
		item := models.TriagedDelta{
			ID:      d.ID,
			File:    d.File,
			Locator: d.Locator.Value,
			Old:     d.Old,
			New:     d.New,
			Why:     "rule-based fallback categorisation",
		}
		haystack := strings.ToLower(d.Locator.Value + " " + models.StrOrEmpty(d.Old) + " " + models.StrOrEmpty(d.New))
		switch {
		case containsAny(haystack, []string{"credential", "secret", "password", "token", "api_key", "apikey", "private_key"}):
			item.AIReviewAssistant = &models.AIReviewAssistant{
				PotentialRisk:   "credential-shaped configuration changed",
				SuggestedAction: "verify the change with the service owner before merge",
			}
			resp.High = append(resp.High, item)
		case d.Policy != nil && d.Policy.Tag == models.TagAllowedVariance:
			resp.AllowedVariance = append(resp.AllowedVariance, item)
		case containsAny(haystack, []string{"url", "host", "port", "endpoint", "proxy", "dns", "gateway"}):
			item.AIReviewAssistant = &models.AIReviewAssistant{
				PotentialRisk:   "network-facing setting changed",
				SuggestedAction: "confirm the new target is reachable and intended",
			}
			resp.Medium = append(resp.Medium, item)
		default:
			item.AIReviewAssistant = &models.AIReviewAssistant{
				PotentialRisk:   "low operational impact",
				SuggestedAction: "routine review",
			}
			resp.Low = append(resp.Low, item)
		}
	}
	return resp
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// mergeBuckets appends a batch response onto the run output, dropping items
// whose id does not belong to the input delta set and items already placed
// in an earlier bucket. placed records ids that landed in any bucket.
func mergeBuckets(output *models.LLMOutput, resp *batchResponse, byID map[string]*models.Delta, placed map[string]bool) {
	keep := func(items []models.TriagedDelta) []models.TriagedDelta {
		out := make([]models.TriagedDelta, 0, len(items))
		for _, item := range items {
			if _, known := byID[item.ID]; !known || placed[item.ID] {
				continue
			}
			placed[item.ID] = true
			out = append(out, item)
		}
		return out
	}
	output.High = append(output.High, keep(resp.High)...)
	output.Medium = append(output.Medium, keep(resp.Medium)...)
	output.Low = append(output.Low, keep(resp.Low)...)
	output.AllowedVariance = append(output.AllowedVariance, keep(resp.AllowedVariance)...)
}

// unplaced returns the batch deltas absent from every bucket so far
func unplaced(batch []models.Delta, placed map[string]bool) []models.Delta {
	var out []models.Delta
	for _, d := range batch {
		if !placed[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func sortBuckets(output *models.LLMOutput) {
	byFileID := func(items []models.TriagedDelta) {
		sort.Slice(items, func(i, j int) bool {
			if items[i].File != items[j].File {
				return items[i].File < items[j].File
			}
			return items[i].ID < items[j].ID
		})
	}
	byFileID(output.High)
	byFileID(output.Medium)
	byFileID(output.Low)
	byFileID(output.AllowedVariance)
}

func summarise(bundle *models.ContextBundle, output *models.LLMOutput) models.TriageSummary {
	files := make(map[string]bool)
	for _, bucket := range [][]models.TriagedDelta{output.High, output.Medium, output.Low, output.AllowedVariance} {
		for _, item := range bucket {
			files[item.File] = true
		}
	}

	configFiles := make(map[string]bool)
	for _, d := range bundle.Deltas {
		if classifier.IsConfig(d.File) {
			configFiles[d.File] = true
		}
	}

	return models.TriageSummary{
		TotalDrifts:      len(output.High) + len(output.Medium) + len(output.Low) + len(output.AllowedVariance),
		HighRisk:         len(output.High),
		MediumRisk:       len(output.Medium),
		LowRisk:          len(output.Low),
		AllowedVariance:  len(output.AllowedVariance),
		FilesWithDrift:   len(files),
		TotalConfigFiles: len(configFiles),
	}
}
