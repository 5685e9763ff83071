package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/antoniostano/memvault/internal/embedding"
	"github.com/antoniostano/memvault/internal/observability"
	"github.com/google/uuid"
)

const (
	DefaultSimilarityThreshold    = 0.80
	DefaultSummaryAppendThreshold = 0.95
	DefaultCandidateWindow        = 200
	DefaultQueryLimit             = 5
)

// Config tunes deduplication.
type Config struct {
	// SimilarityThreshold is the minimum cosine score for two records to be
	// treated as the same memory.
	SimilarityThreshold float64
	// SummaryAppendThreshold is the textual similarity at or above which a
	// merged summary is considered a restatement and not appended.
	SummaryAppendThreshold float64
	CandidateWindow        int
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:    DefaultSimilarityThreshold,
		SummaryAppendThreshold: DefaultSummaryAppendThreshold,
		CandidateWindow:        DefaultCandidateWindow,
	}
}

// Vault implements create, dedup, merge, ranked query and retention over a
// Store. It is safe for concurrent use; callers serialize ingestion per owner.
type Vault struct {
	store    Store
	embedder embedding.Provider
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

type Option func(*Vault)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

func NewVault(store Store, embedder embedding.Provider, cfg Config, opts ...Option) *Vault {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.SummaryAppendThreshold <= 0 {
		cfg.SummaryAppendThreshold = def.SummaryAppendThreshold
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = def.CandidateWindow
	}
	v := &Vault{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) Config() Config { return v.cfg }

// Embed returns the vector for text, or nil when the provider cannot produce
// one. Failures are logged and counted, never returned.
func (v *Vault) Embed(ctx context.Context, text string) []float32 {
	if v.embedder == nil {
		return nil
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err == nil {
		if want := v.embedder.Dimensions(); want > 0 && len(vec) != want {
			err = fmt.Errorf("%w: got %d dimensions, want %d", embedding.ErrEmbeddingUnavailable, len(vec), want)
		}
	}
	if err != nil {
		if strings.TrimSpace(text) != "" {
			v.metrics.IncFallback("embedding")
			v.logger.Warn("embedding unavailable, continuing without vector", "err", err)
		}
		return nil
	}
	return vec
}

// NewRecord builds an unsaved record from fields. An empty id gets a UUID.
func (v *Vault) NewRecord(ownerID, id string, f Fields, emb []float32) Record {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	now := v.now()
	rec := Record{
		ID:          id,
		OwnerID:     ownerID,
		Summary:     strings.TrimSpace(f.Summary),
		MemoryType:  f.MemoryType,
		Emotion:     f.Emotion,
		Importance:  clampImportance(f.Importance),
		Context:     f.Context,
		SourceType:  f.SourceType,
		Entities:    unionEntities(nil, f.Entities),
		Preferences: clonePrefs(f.Preferences),
		Embedding:   emb,
		CreatedAt:   now,
		UpdatedAt:   now,
		// A new record counts as touched so retention starts from creation.
		LastAccessed: now,
	}
	if f.Sentiment != nil {
		s := *f.Sentiment
		rec.Sentiment = &s
	}
	if rec.Preferences == nil {
		rec.Preferences = map[string]any{}
	}
	return rec
}

// Commit persists rec and, when prefs is non-nil, merges prefs into the
// owner's aggregate in the same write.
func (v *Vault) Commit(ctx context.Context, rec Record, prefs map[string]any) error {
	if err := v.store.Save(ctx, rec, prefs); err != nil {
		return fmt.Errorf("commit record %s: %w", rec.ID, err)
	}
	return nil
}

// IngestNew embeds the summary and persists a new record. An unavailable
// embedding leaves the record without a vector.
func (v *Vault) IngestNew(ctx context.Context, ownerID string, f Fields) (Record, error) {
	rec := v.NewRecord(ownerID, "", f, v.Embed(ctx, f.Summary))
	if err := v.Commit(ctx, rec, nil); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (v *Vault) Get(ctx context.Context, ownerID, id string) (Record, error) {
	return v.store.Get(ctx, ownerID, id)
}

// Candidate is a near-duplicate found by FindCandidate.
type Candidate struct {
	Record Record
	Score  float64
}

// FindCandidate scans the window most recently touched records of the owner
// and returns the best match scoring at least the similarity threshold, or
// nil. Ties keep the first record in scan order. window <= 0 uses the
// configured window. It does not touch the records it reads.
func (v *Vault) FindCandidate(ctx context.Context, ownerID string, emb []float32, window int) (*Candidate, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	if window <= 0 {
		window = v.cfg.CandidateWindow
	}
	recent, err := v.store.Recent(ctx, ownerID, window)
	if err != nil {
		return nil, fmt.Errorf("find candidate: %w", err)
	}
	var best *Candidate
	for i := range recent {
		if !recent[i].HasEmbedding() {
			continue
		}
		score := embedding.CosineSimilarity(emb, recent[i].Embedding)
		if score < v.cfg.SimilarityThreshold {
			continue
		}
		if best == nil || score > best.Score {
			best = &Candidate{Record: recent[i], Score: score}
		}
	}
	return best, nil
}

// MergeRecord folds f into existing without persisting. The summary grows
// only with text that is neither contained in it nor a close restatement,
// and the embedding is recomputed only when it does. A failed re-embed keeps
// the previous vector.
func (v *Vault) MergeRecord(ctx context.Context, existing Record, f Fields) Record {
	merged, summaryChanged := v.MergeFields(existing, f)
	if summaryChanged {
		if emb := v.Embed(ctx, merged.Summary); emb != nil {
			merged.Embedding = emb
		}
	}
	return merged
}

// MergeFields is MergeRecord without the re-embed. It reports whether the
// summary changed, in which case the returned record still carries the
// previous embedding.
func (v *Vault) MergeFields(existing Record, f Fields) (Record, bool) {
	merged := existing.Clone()

	summary := strings.TrimSpace(f.Summary)
	summaryChanged := false
	if summary != "" && !strings.Contains(merged.Summary, summary) &&
		TextSimilarity(summary, merged.Summary) < v.cfg.SummaryAppendThreshold {
		if merged.Summary == "" {
			merged.Summary = summary
		} else {
			merged.Summary += "\n\n" + summary
		}
		summaryChanged = true
	}

	merged.Entities = unionEntities(merged.Entities, f.Entities)
	if len(f.Preferences) > 0 {
		merged.Preferences = mergePrefs(merged.Preferences, f.Preferences)
	}
	if imp := clampImportance(f.Importance); imp > merged.Importance {
		merged.Importance = imp
	}
	if merged.MemoryType == "" {
		merged.MemoryType = f.MemoryType
	}
	if f.Emotion != "" {
		merged.Emotion = f.Emotion
	}
	if f.Sentiment != nil {
		s := *f.Sentiment
		merged.Sentiment = &s
	}
	if merged.Context == "" {
		merged.Context = f.Context
	}
	if merged.SourceType == "" {
		merged.SourceType = f.SourceType
	}

	now := v.now()
	merged.UpdatedAt = now
	merged.LastAccessed = now
	return merged, summaryChanged
}

// RefreshEmbedding stores emb on the record if its summary is still summary.
// It reports whether the vector was written; a record changed or deleted in
// the meantime is left alone.
func (v *Vault) RefreshEmbedding(ctx context.Context, ownerID, id, summary string, emb []float32) (bool, error) {
	if len(emb) == 0 {
		return false, nil
	}
	rec, err := v.store.Get(ctx, ownerID, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("refresh embedding: %w", err)
	}
	if rec.Summary != summary {
		return false, nil
	}
	rec.Embedding = emb
	if err := v.store.Save(ctx, rec, nil); err != nil {
		return false, fmt.Errorf("refresh embedding: %w", err)
	}
	return true, nil
}

// Merge folds f into existing and persists the result.
func (v *Vault) Merge(ctx context.Context, existing Record, f Fields) (Record, error) {
	merged := v.MergeRecord(ctx, existing, f)
	if err := v.Commit(ctx, merged, nil); err != nil {
		return Record{}, err
	}
	return merged, nil
}

// Authoritative carries values from a trusted source that replace what the
// vault holds. Nil fields are left unchanged.
type Authoritative struct {
	Summary     *string        `json:"summary,omitempty"`
	Entities    []string       `json:"entities,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	Importance  *float64       `json:"importance,omitempty"`
}

// ReconcileConflicts overwrites a record with authoritative values. The
// preferences are also merged into the owner aggregate.
func (v *Vault) ReconcileConflicts(ctx context.Context, ownerID, id string, a Authoritative) (Record, error) {
	rec, err := v.store.Get(ctx, ownerID, id)
	if err != nil {
		return Record{}, err
	}
	if a.Summary != nil {
		summary := strings.TrimSpace(*a.Summary)
		if summary == "" {
			return Record{}, fmt.Errorf("%w: authoritative summary is blank", ErrInvalidRecord)
		}
		if summary != rec.Summary {
			rec.Summary = summary
			rec.Embedding = v.Embed(ctx, summary)
		}
	}
	if a.Entities != nil {
		rec.Entities = unionEntities(nil, a.Entities)
	}
	if a.Preferences != nil {
		rec.Preferences = clonePrefs(a.Preferences)
	}
	if a.Importance != nil {
		rec.Importance = clampImportance(*a.Importance)
	}
	now := v.now()
	rec.UpdatedAt = now
	rec.LastAccessed = now

	if err := v.Commit(ctx, rec, a.Preferences); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// QueryOptions narrows and ranks a Query. Zero values disable a filter.
type QueryOptions struct {
	Keyword       string
	Limit         int
	MemoryTypes   []MemoryType
	Emotions      []string
	MinImportance float64
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// MinScore drops semantic results scoring below it.
	MinScore float64
}

// Query mode names reported to metrics.
const (
	QueryModeSemantic = "semantic"
	QueryModeKeyword  = "keyword"
	QueryModeRecency  = "recency"
)

// Query returns up to Limit records. With a keyword, records are ranked by
// cosine similarity to the keyword embedding; if it cannot be embedded, they
// are matched by substring and ordered by recency. Without a keyword they
// are ordered by recency. Every returned record has LastAccessed bumped.
func (v *Vault) Query(ctx context.Context, ownerID string, opts QueryOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	all, err := v.store.Recent(ctx, ownerID, 0)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	candidates := make([]Record, 0, len(all))
	for _, rec := range all {
		if opts.matches(rec) {
			candidates = append(candidates, rec)
		}
	}

	keyword := strings.TrimSpace(opts.Keyword)
	mode := QueryModeRecency
	var out []Record
	switch {
	case keyword == "":
		out = candidates
	default:
		if qv := v.Embed(ctx, keyword); qv != nil {
			mode = QueryModeSemantic
			out = rankBySimilarity(candidates, qv, opts.MinScore)
		} else {
			mode = QueryModeKeyword
			out = matchKeyword(candidates, keyword)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	v.metrics.IncQuery(mode)

	if len(out) > 0 {
		at := v.now()
		ids := make([]string, len(out))
		for i := range out {
			ids[i] = out[i].ID
			out[i].LastAccessed = at
		}
		// Best effort: a lost bump only shifts retention.
		if err := v.store.Touch(ctx, ownerID, ids, at); err != nil {
			v.logger.Warn("query touch failed", "owner_id", ownerID, "err", err)
		}
	}
	return out, nil
}

func (o QueryOptions) matches(rec Record) bool {
	if len(o.MemoryTypes) > 0 && !containsType(o.MemoryTypes, rec.MemoryType) {
		return false
	}
	if len(o.Emotions) > 0 && !containsFold(o.Emotions, rec.Emotion) {
		return false
	}
	if o.MinImportance > 0 && rec.Importance < o.MinImportance {
		return false
	}
	if !o.CreatedAfter.IsZero() && !rec.CreatedAt.After(o.CreatedAfter) {
		return false
	}
	if !o.CreatedBefore.IsZero() && !rec.CreatedAt.Before(o.CreatedBefore) {
		return false
	}
	return true
}

// rankBySimilarity sorts by score descending; the stable sort keeps recency
// order among equal scores.
func rankBySimilarity(records []Record, qv []float32, minScore float64) []Record {
	type scored struct {
		rec   Record
		score float64
	}
	items := make([]scored, 0, len(records))
	for _, rec := range records {
		score := embedding.CosineSimilarity(qv, rec.Embedding)
		if minScore > 0 && score < minScore {
			continue
		}
		items = append(items, scored{rec: rec, score: score})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	out := make([]Record, len(items))
	for i := range items {
		out[i] = items[i].rec
	}
	return out
}

func matchKeyword(records []Record, keyword string) []Record {
	needle := strings.ToLower(keyword)
	var out []Record
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Summary), needle) {
			out = append(out, rec)
			continue
		}
		for _, e := range rec.Entities {
			if strings.Contains(strings.ToLower(e), needle) {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}

// Prune permanently deletes the owner's records last accessed before
// now - retention.
func (v *Vault) Prune(ctx context.Context, ownerID string, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("prune: retention must be positive, got %s", retention)
	}
	n, err := v.store.DeleteAccessedBefore(ctx, ownerID, v.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	v.metrics.AddPruned(n)
	if n > 0 {
		v.logger.Info("pruned stale memories", "owner_id", ownerID, "count", n)
	}
	return n, nil
}

// UpdatePreferences shallow-merges prefs into the owner aggregate, creating
// it if absent.
func (v *Vault) UpdatePreferences(ctx context.Context, ownerID string, prefs map[string]any) (PreferenceAggregate, error) {
	agg, err := v.store.MergePreferences(ctx, ownerID, prefs, v.now())
	if err != nil {
		return PreferenceAggregate{}, fmt.Errorf("update preferences: %w", err)
	}
	return agg, nil
}

// Preferences returns the owner aggregate, empty if none exists yet.
func (v *Vault) Preferences(ctx context.Context, ownerID string) (PreferenceAggregate, error) {
	agg, err := v.store.Preferences(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return PreferenceAggregate{OwnerID: ownerID, Preferences: map[string]any{}}, nil
	}
	if err != nil {
		return PreferenceAggregate{}, fmt.Errorf("preferences: %w", err)
	}
	return agg, nil
}

func clampImportance(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// unionEntities appends new entities to base, skipping blanks and
// case-insensitive duplicates. Order of first appearance is kept.
func unionEntities(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, e := range list {
			e = strings.TrimSpace(e)
			key := strings.ToLower(e)
			if e == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func containsType(types []MemoryType, t MemoryType) bool {
	for _, x := range types {
		if strings.EqualFold(string(x), string(t)) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

// SameContent reports whether two records hold the same observable content,
// ignoring timestamps.
func SameContent(a, b Record) bool {
	return a.Summary == b.Summary &&
		a.Importance == b.Importance &&
		reflect.DeepEqual(a.Entities, b.Entities) &&
		reflect.DeepEqual(a.Preferences, b.Preferences)
}
