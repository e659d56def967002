package recommend

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/dayflow/internal/bus"
	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/internal/flight"
	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/plugin/ai/fingerprint"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/cache"
)

// Config configures an Orchestrator.
type Config struct {
	Policy        StalenessPolicy
	DefaultCount  int
	RemoteTimeout time.Duration
	Now           func() time.Time
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Orchestrator serves recommendations from cache when fresh and generates
// them otherwise, coalescing concurrent generations for the same input.
type Orchestrator struct {
	records *cache.Store[*Record]
	remote  RemoteRecommender
	flights flight.Group[*Record]

	policy        StalenessPolicy
	defaultCount  int
	remoteTimeout time.Duration
	now           func() time.Time
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewOrchestrator creates an orchestrator caching into records. remote may be
// nil, in which case every request is answered by the local heuristic.
func NewOrchestrator(records *cache.Store[*Record], remote RemoteRecommender, cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Policy.Now == nil {
		cfg.Policy.Now = cfg.Now
	}
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = defaultCount
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 8 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.GlobalMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		records:       records,
		remote:        remote,
		policy:        cfg.Policy,
		defaultCount:  cfg.DefaultCount,
		remoteTimeout: cfg.RemoteTimeout,
		now:           cfg.Now,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "recommend"),
	}
}

// Generations returns how many times the generation pipeline has run.
func (o *Orchestrator) Generations() int64 {
	return o.flights.Calls()
}

// GetRecommendations returns recommendations for req.Tasks. Remote failures
// never surface as errors; a malformed task set does.
func (o *Orchestrator) GetRecommendations(ctx context.Context, req Request) (*Record, error) {
	o.metrics.RecordRequest()
	start := time.Now()
	logger := observability.LoggerFrom(ctx, o.logger)

	if req.Scope == "" {
		req.Scope = defaultScope
	}
	if req.Method == "" {
		req.Method = MethodLocal
	}
	if !req.Method.Valid() {
		o.metrics.RecordFailure()
		return nil, apperrors.InvalidArgument("unknown recommendation method " + string(req.Method))
	}
	if req.Method == MethodRemote && o.remote == nil {
		req.Method = MethodLocal
	}
	if req.Count <= 0 {
		req.Count = o.defaultCount
	}
	key := recordKey(req)

	fp, err := fingerprint.Compute(req.Tasks)
	if err != nil {
		o.metrics.RecordFailure()
		logger.Error("refusing malformed task set", "scope", req.Scope, "error", err)
		return nil, err
	}
	if fp == fingerprint.Empty {
		return o.emptyRecord(req, fp, MessageNoTasks), nil
	}
	if !hasIncomplete(req.Tasks) {
		return o.emptyRecord(req, fp, MessageAllDone), nil
	}

	if entry, ok := o.records.Get(key); ok && !o.policy.IsStale(entry.Payload, fp, req.Method, req.Context) {
		o.metrics.RecordCacheHit()
		logger.Debug("serving cached recommendations",
			observability.LogFieldScope, req.Scope,
			observability.LogFieldFingerprint, fp,
			observability.LogFieldMethod, entry.Payload.Method)
		return entry.Payload, nil
	}
	o.metrics.RecordCacheMiss()

	record, shared, err := o.flights.Do(ctx, key+"|"+fp+"|"+string(req.Method), func(ctx context.Context) (*Record, error) {
		return o.generate(ctx, req, key, fp)
	})
	if err != nil {
		o.metrics.RecordFailure()
		return nil, err
	}
	if shared {
		o.metrics.RecordCoalesced()
	}
	logger.Debug("generated recommendations",
		observability.LogFieldScope, req.Scope,
		observability.LogFieldMethod, record.Method,
		"items", len(record.Items),
		"shared", shared,
		observability.LogFieldDuration, time.Since(start).Milliseconds())
	return record, nil
}

// recordKey is the cache key of req's record.
func recordKey(req Request) string {
	if req.Owner == "" {
		return req.Scope
	}
	return cache.OwnerKey(req.Owner, req.Scope)
}

// generate runs the tiers and caches the result under key.
func (o *Orchestrator) generate(ctx context.Context, req Request, key, fp string) (*Record, error) {
	start := time.Now()
	candidates := incompleteTasks(req.Tasks)

	record := &Record{
		SourceFingerprint: fp,
		Context:           req.Context,
	}
	if req.Method == MethodRemote {
		items, err := o.tryRemote(ctx, req, candidates)
		if err == nil {
			record.Items = items
			record.Method = MethodRemote
		} else {
			o.metrics.RecordFallback()
			o.logger.Warn("remote recommender unavailable, using local heuristic",
				observability.LogFieldScope, req.Scope,
				"error", err)
		}
	}
	if record.Method == "" {
		record.Items, record.Message = rankLocal(candidates, req.Context, req.Count)
		record.Method = MethodLocal
	}
	record.WrittenAt = o.now()
	o.metrics.RecordGeneration(string(record.Method), time.Since(start))

	if err := o.records.Put(key, record, false); err != nil {
		o.logger.Warn("failed to cache recommendations", observability.LogFieldScope, key, "error", err)
	}
	return record, nil
}

func (o *Orchestrator) tryRemote(ctx context.Context, req Request, candidates []*store.Task) ([]Item, error) {
	if o.remote == nil {
		return nil, apperrors.RemoteUnavailable("no remote recommender configured", nil)
	}
	remoteCtx, cancel := context.WithTimeout(ctx, o.remoteTimeout)
	defer cancel()

	answer, err := o.remote.Recommend(remoteCtx, RemoteRequest{
		Tasks:   candidates,
		Context: req.Context,
		Count:   req.Count,
	})
	if err != nil {
		if remoteCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Timeout("remote recommender timed out")
		}
		return nil, apperrors.RemoteUnavailable(o.remote.Name()+" failed", err)
	}
	items, err := toItems(answer, candidates, req.Count)
	if err != nil {
		return nil, apperrors.RemoteUnavailable(o.remote.Name()+" answered badly", err)
	}
	return items, nil
}

func (o *Orchestrator) emptyRecord(req Request, fp, message string) *Record {
	return &Record{
		Items:             []Item{},
		Method:            req.Method,
		SourceFingerprint: fp,
		Context:           req.Context,
		WrittenAt:         o.now(),
		Message:           message,
	}
}

// HandleInvalidation observes task partition changes. Nothing is recomputed:
// the next request sees a different fingerprint and regenerates then.
func (o *Orchestrator) HandleInvalidation(_ context.Context, event bus.Event) error {
	o.metrics.RecordInvalidation()
	o.logger.Debug("observed invalidation",
		"scope", event.Scope,
		observability.LogFieldFamily, event.Family,
		observability.LogFieldPartition, event.PartitionKey,
		"reason", event.Reason)
	return nil
}

func hasIncomplete(tasks []*store.Task) bool {
	for _, t := range tasks {
		if !t.IsCompleted() {
			return true
		}
	}
	return false
}

func incompleteTasks(tasks []*store.Task) []*store.Task {
	out := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.IsCompleted() {
			out = append(out, t)
		}
	}
	return out
}
