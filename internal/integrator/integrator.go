// Package integrator runs one ingestion event through extraction,
// deduplication, persistence and follow-up detection.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/memvault/internal/extract"
	"github.com/antoniostano/memvault/internal/gap"
	"github.com/antoniostano/memvault/internal/memory"
	"github.com/antoniostano/memvault/internal/observability"
	"github.com/antoniostano/memvault/internal/policy"
	"github.com/antoniostano/memvault/internal/session"
)

const (
	PlaceholderSummary    = "Memory could not be extracted"
	placeholderImportance = 0.3
	placeholderRawLimit   = 1000
	logSummaryLimit       = 60
)

var ErrMissingOwner = errors.New("owner_id is required")

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeMerged  Outcome = "merged"
)

// Request is one raw event for one owner.
type Request struct {
	OwnerID    string
	RawText    string
	SourceType string
	// Timestamp is the event time; it feeds the deterministic record id.
	Timestamp time.Time
	// SkipActions suppresses the notify and automate callbacks.
	SkipActions bool
}

type Result struct {
	Record      memory.Record    `json:"record"`
	Outcome     Outcome          `json:"outcome"`
	Suggestions []gap.Suggestion `json:"suggestions,omitempty"`
	// Fallbacks lists the enrichment steps that degraded: extraction, embedding.
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Integrator holds no persistent state. Instances that share a vault must
// share OwnerLocks (WithLocks) to keep ingestion serialized per owner.
type Integrator struct {
	vault     *memory.Vault
	extractor extract.Extractor
	detector  gap.Detector
	notifier  Notifier
	automator Automator
	locks     *OwnerLocks
	contexts  *session.ContextStore
	redactor  *policy.Redactor
	metrics   *observability.Metrics
	logger    *slog.Logger
}

type Option func(*Integrator)

func WithDetector(d gap.Detector) Option {
	return func(i *Integrator) {
		if d != nil {
			i.detector = d
		}
	}
}

func WithNotifier(n Notifier) Option   { return func(i *Integrator) { i.notifier = n } }
func WithAutomator(a Automator) Option { return func(i *Integrator) { i.automator = a } }

func WithLocks(l *OwnerLocks) Option {
	return func(i *Integrator) {
		if l != nil {
			i.locks = l
		}
	}
}

func WithContextStore(s *session.ContextStore) Option {
	return func(i *Integrator) { i.contexts = s }
}

func WithRedactor(r *policy.Redactor) Option { return func(i *Integrator) { i.redactor = r } }

func WithMetrics(m *observability.Metrics) Option { return func(i *Integrator) { i.metrics = m } }

func WithLogger(logger *slog.Logger) Option {
	return func(i *Integrator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func New(vault *memory.Vault, extractor extract.Extractor, opts ...Option) *Integrator {
	i := &Integrator{
		vault:     vault,
		extractor: extractor,
		detector:  gap.NewKeywordDetector(),
		locks:     NewOwnerLocks(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest stores rawText for ownerID and returns the created or merged record.
// Only storage failures are returned.
func (i *Integrator) Ingest(ctx context.Context, ownerID, rawText, sourceType string) (memory.Record, error) {
	res, err := i.IngestDetailed(ctx, Request{OwnerID: ownerID, RawText: rawText, SourceType: sourceType})
	return res.Record, err
}

func (i *Integrator) IngestDetailed(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return Result{}, ErrMissingOwner
	}
	log := i.logger.With("owner_id", ownerID, "source_type", req.SourceType)

	raw := req.RawText
	if i.redactor != nil {
		if redacted, kinds := i.redactor.Redact(raw); len(kinds) > 0 {
			raw = redacted
			log.Debug("redacted raw text", "kinds", kinds)
		}
	}

	var fallbacks []string
	stage := time.Now()
	ext, err := i.extract(ctx, extract.Request{
		RawText:    raw,
		Context:    i.contextHint(ownerID, req.SourceType),
		SourceType: req.SourceType,
		Timestamp:  req.Timestamp,
	})
	i.metrics.ObserveIngestStage("extract", time.Since(stage))
	placeholder := err != nil
	if placeholder {
		fallbacks = append(fallbacks, "extraction")
		i.metrics.IncFallback("extraction")
		log.Warn("extraction failed, storing placeholder", "err", err)
		ext = placeholderExtraction(raw, req)
	}
	fields := ext.Fields()

	// Embed outside the owner's critical section. Placeholders stay
	// unembedded so they never attract unrelated merges.
	var emb []float32
	if !placeholder {
		stage = time.Now()
		emb = i.vault.Embed(ctx, fields.Summary)
		i.metrics.ObserveIngestStage("embed", time.Since(stage))
		if emb == nil {
			fallbacks = append(fallbacks, "embedding")
		}
	}

	prefs := fields.Preferences
	if prefs == nil {
		prefs = map[string]any{}
	}

	stage = time.Now()
	unlock := i.locks.Lock(ownerID)
	rec, outcome, reembed, err := i.resolve(ctx, ownerID, ext.DeterministicID, fields, emb, prefs, !placeholder)
	unlock()
	i.metrics.ObserveIngestStage("resolve", time.Since(stage))
	if err != nil {
		log.Error("ingestion aborted", "err", err)
		return Result{}, err
	}
	if reembed {
		rec = i.refreshEmbedding(ctx, rec, log)
	}

	stage = time.Now()
	suggestions := i.detect(rec, log)
	i.metrics.ObserveIngestStage("gap_check", time.Since(stage))
	for _, s := range suggestions {
		i.metrics.IncGapSuggestion(string(s.Action.Kind()))
	}
	if len(suggestions) > 0 && !req.SkipActions {
		i.dispatch(ctx, Payload{
			OwnerID:     ownerID,
			RecordID:    rec.ID,
			Suggestions: suggestions,
			Summary:     rec.Summary,
		}, log)
	}

	if i.contexts != nil && !placeholder {
		i.contexts.Record(ownerID, session.Entry{
			Channel:  req.SourceType,
			RecordID: rec.ID,
			Summary:  fields.Summary,
			Entities: fields.Entities,
		})
	}

	i.metrics.IncIngestion(string(outcome))
	i.metrics.ObserveIngestDuration(time.Since(started))
	log.Info("memory ingested",
		"record_id", rec.ID,
		"outcome", outcome,
		"summary", observability.Truncate(rec.Summary, logSummaryLimit),
		"suggestions", len(suggestions),
	)
	return Result{Record: rec, Outcome: outcome, Suggestions: suggestions, Fallbacks: fallbacks}, nil
}

// resolve merges into an exact-id or near-duplicate match, or creates a new
// record. Callers hold the owner's lock. reembed is set when a merge changed
// the summary; the stored record then still carries the previous vector.
func (i *Integrator) resolve(ctx context.Context, ownerID, id string, fields memory.Fields, emb []float32, prefs map[string]any, searchSimilar bool) (memory.Record, Outcome, bool, error) {
	if id != "" {
		existing, err := i.vault.Get(ctx, ownerID, id)
		switch {
		case err == nil:
			return i.merge(ctx, existing, fields, prefs)
		case !errors.Is(err, memory.ErrNotFound):
			return memory.Record{}, "", false, fmt.Errorf("exact match lookup: %w", err)
		}
	}
	if searchSimilar {
		cand, err := i.vault.FindCandidate(ctx, ownerID, emb, 0)
		if err != nil {
			return memory.Record{}, "", false, err
		}
		if cand != nil {
			i.logger.Debug("near duplicate found", "owner_id", ownerID, "record_id", cand.Record.ID, "score", cand.Score)
			return i.merge(ctx, cand.Record, fields, prefs)
		}
	}
	rec, err := i.commit(ctx, i.vault.NewRecord(ownerID, id, fields, emb), prefs)
	return rec, OutcomeCreated, false, err
}

func (i *Integrator) merge(ctx context.Context, existing memory.Record, fields memory.Fields, prefs map[string]any) (memory.Record, Outcome, bool, error) {
	merged, summaryChanged := i.vault.MergeFields(existing, fields)
	rec, err := i.commit(ctx, merged, prefs)
	if err != nil {
		return memory.Record{}, "", false, err
	}
	return rec, OutcomeMerged, summaryChanged, nil
}

func (i *Integrator) commit(ctx context.Context, rec memory.Record, prefs map[string]any) (memory.Record, error) {
	start := time.Now()
	err := i.vault.Commit(ctx, rec, prefs)
	i.metrics.ObserveIngestStage("persist", time.Since(start))
	if err != nil {
		return memory.Record{}, err
	}
	return rec, nil
}

// refreshEmbedding embeds a merged summary without holding the owner's lock,
// then writes the vector back if the record was not changed in between. Any
// failure keeps the previous vector.
func (i *Integrator) refreshEmbedding(ctx context.Context, rec memory.Record, log *slog.Logger) memory.Record {
	stage := time.Now()
	emb := i.vault.Embed(ctx, rec.Summary)
	i.metrics.ObserveIngestStage("embed", time.Since(stage))
	if emb == nil {
		return rec
	}
	unlock := i.locks.Lock(rec.OwnerID)
	ok, err := i.vault.RefreshEmbedding(ctx, rec.OwnerID, rec.ID, rec.Summary, emb)
	unlock()
	if err != nil {
		log.Warn("merged record keeps previous embedding", "record_id", rec.ID, "err", err)
		return rec
	}
	if ok {
		rec.Embedding = emb
	}
	return rec
}

func (i *Integrator) extract(ctx context.Context, req extract.Request) (ext *extract.Extraction, err error) {
	if i.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", extract.ErrExtractionFailed)
	}
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("%w: extractor panic: %v", extract.ErrExtractionFailed, r)
		}
	}()
	ext, err = i.extractor.Extract(ctx, req)
	if err != nil {
		return nil, err
	}
	if ext == nil || strings.TrimSpace(ext.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", extract.ErrExtractionFailed)
	}
	if ext.SourceType == "" {
		ext.SourceType = req.SourceType
	}
	if ext.MemoryType == "" {
		ext.MemoryType = string(memory.TypeNote)
	}
	return ext, nil
}

func placeholderExtraction(raw string, req Request) *extract.Extraction {
	text := strings.TrimSpace(raw)
	if r := []rune(text); len(r) > placeholderRawLimit {
		text = string(r[:placeholderRawLimit])
	}
	return &extract.Extraction{
		Summary:         PlaceholderSummary,
		MemoryType:      string(memory.TypeNote),
		Importance:      placeholderImportance,
		Context:         text,
		Preferences:     map[string]any{},
		SourceType:      req.SourceType,
		DeterministicID: extract.DeterministicID(req.SourceType, req.Timestamp, raw),
	}
}

func (i *Integrator) contextHint(ownerID, channel string) string {
	if i.contexts == nil {
		return ""
	}
	return session.Hint(i.contexts.Recent(ownerID, channel))
}

func (i *Integrator) detect(rec memory.Record, log *slog.Logger) (out []gap.Suggestion) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("gap detector panicked", "record_id", rec.ID, "panic", r)
			out = nil
		}
	}()
	for _, s := range i.detector.Detect(rec) {
		if s.Action != nil {
			out = append(out, s)
		}
	}
	return out
}

func (i *Integrator) dispatch(ctx context.Context, p Payload, log *slog.Logger) {
	if i.notifier != nil {
		i.safeCall(ctx, "notify", log, func(ctx context.Context) error { return i.notifier.Notify(ctx, p) })
	}
	if i.automator != nil {
		i.safeCall(ctx, "automate", log, func(ctx context.Context) error { return i.automator.Automate(ctx, p) })
	}
}

// safeCall runs a callback; its errors and panics never reach the caller.
func (i *Integrator) safeCall(ctx context.Context, name string, log *slog.Logger, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			i.metrics.IncCallbackFailure(name)
			log.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	if err := fn(ctx); err != nil {
		i.metrics.IncCallbackFailure(name)
		log.Warn("callback failed", "callback", name, "err", err)
	}
}
