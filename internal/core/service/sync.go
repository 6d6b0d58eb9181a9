package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/singleflight"

	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/tenancy"
	"github.com/yndnr/farmsync-go/internal/storage"
	"github.com/yndnr/farmsync-go/internal/telemetry/metric"
)

// MetadataStore holds the per-partition sync bookkeeping.
type MetadataStore interface {
	GetSyncMetadata(ctx context.Context) (*domain.SyncMetadata, error)
	SetSyncMetadata(ctx context.Context, meta *domain.SyncMetadata) error

	// LastSyncRun and SetLastSyncRun persist the device time of the last
	// finished run so min_interval holds across process restarts.
	LastSyncRun(ctx context.Context) (time.Time, error)
	SetLastSyncRun(ctx context.Context, at time.Time) error
}

// RecordReconciler is the store view that tracks dirty records and merges
// remote changes.
type RecordReconciler interface {
	DirtyRecords(ctx context.Context, entityType domain.EntityType) ([]*domain.LocalRecord, error)
	CountDirty(ctx context.Context) (int, error)
	MarkPushed(ctx context.Context, pushed *domain.LocalRecord, remoteVersion uint64, remoteUpdatedAt time.Time) (bool, error)
	PurgeTombstone(ctx context.Context, tomb *domain.LocalRecord) (bool, error)
	ApplyRemote(ctx context.Context, remote *domain.RemoteRecord) (storage.MergeOutcome, error)
}

// ContextValidator validates the tenancy binding.
type ContextValidator interface {
	ValidateContext(requireUser bool) (tenancy.Binding, error)
}

// SyncConfig holds configuration for SyncEngine.
type SyncConfig struct {
	// MinInterval is the minimum time between unforced runs (default: 5m).
	MinInterval time.Duration `koanf:"min_interval"`

	// PageSize is the number of records per pull page (default: 100).
	PageSize int `koanf:"page_size"`

	// MaxPages bounds the pages pulled per entity type and run (default: 20).
	MaxPages int `koanf:"max_pages"`
}

// DefaultSyncConfig returns default configuration.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MinInterval: 5 * time.Minute,
		PageSize:    100,
		MaxPages:    20,
	}
}

// EntityReport is the outcome of one entity type in a sync run.
type EntityReport struct {
	Pushed    int    `json:"pushed"`
	Purged    int    `json:"purged"`
	Pulled    int    `json:"pulled"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	KeptLocal int    `json:"kept_local"`
	Error     string `json:"error,omitempty"`
}

// SyncReport is the outcome of PerformSync. Joined callers share one
// report and must not modify it.
type SyncReport struct {
	TenantID      string                              `json:"tenant_id,omitempty"`
	OwnerFarmerID string                              `json:"owner_farmer_id,omitempty"`
	Status        domain.SyncStatus                   `json:"status"`
	Forced        bool                                `json:"forced"`
	StartedAt     time.Time                           `json:"started_at"`
	FinishedAt    time.Time                           `json:"finished_at"`
	Entities      map[domain.EntityType]*EntityReport `json:"entities,omitempty"`
	PendingPush   int                                 `json:"pending_push"`
	LastSyncTime  time.Time                           `json:"last_sync_time"`
	Err           error                               `json:"-"`
}

// StatusEvent is published when a sync run starts and when it finishes.
type StatusEvent struct {
	Status domain.SyncStatus
	Report *SyncReport
}

// SyncOption configures a SyncEngine.
type SyncOption func(*SyncEngine)

// WithSyncLogger sets the logger.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(e *SyncEngine) {
		e.logger = l
	}
}

// WithSyncMetrics sets the metrics registry.
func WithSyncMetrics(m *metric.Registry) SyncOption {
	return func(e *SyncEngine) {
		e.metrics = m
	}
}

// WithSyncClock overrides the time source.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(e *SyncEngine) {
		e.now = now
	}
}

// SyncEngine reconciles the dirty records of the bound partition with the
// remote system of record.
//
// Overlapping runs for the same partition are coalesced: later callers wait
// for and share the report of the run in flight. A run is never cancelled
// by its caller; it is bounded by the page limits instead.
type SyncEngine struct {
	meta    MetadataStore
	rec     RecordReconciler
	scope   ContextValidator
	remote  RemoteDataAPI
	probe   ConnectivityProbe
	config  *SyncConfig
	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	flight singleflight.Group

	mu          sync.Mutex
	lastRun     map[string]time.Time
	subscribers map[int]chan StatusEvent
	nextSub     int
}

// NewSyncEngine creates a SyncEngine.
func NewSyncEngine(meta MetadataStore, rec RecordReconciler, scope ContextValidator, remote RemoteDataAPI, probe ConnectivityProbe, config *SyncConfig, opts ...SyncOption) *SyncEngine {
	if config == nil {
		config = DefaultSyncConfig()
	}
	e := &SyncEngine{
		meta:        meta,
		rec:         rec,
		scope:       scope,
		remote:      remote,
		probe:       probe,
		config:      config,
		logger:      slog.Default(),
		now:         time.Now,
		lastRun:     make(map[string]time.Time),
		subscribers: make(map[int]chan StatusEvent),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PerformSync runs one sync of the bound partition and reports the outcome.
// It never returns an error; failures are in the report and the partition's
// SyncMetadata.
func (e *SyncEngine) PerformSync(ctx context.Context, force bool) *SyncReport {
	b, err := e.scope.ValidateContext(true)
	if err != nil {
		now := e.now()
		report := &SyncReport{Status: domain.SyncStatusFailed, Forced: force, StartedAt: now, FinishedAt: now, Err: err}
		e.metrics.RecordSyncRun(string(report.Status), 0, 0)
		return report
	}

	ran := false
	v, _, _ := e.flight.Do(b.PartitionKey(), func() (any, error) {
		ran = true
		return e.run(context.WithoutCancel(ctx), b, force), nil
	})
	if !ran {
		e.metrics.IncSyncJoined()
	}
	return v.(*SyncReport)
}

// PerformSyncAsync runs PerformSync in the background. The channel receives
// exactly one report.
func (e *SyncEngine) PerformSyncAsync(ctx context.Context, force bool) <-chan *SyncReport {
	ch := make(chan *SyncReport, 1)
	go func() {
		ch <- e.PerformSync(ctx, force)
	}()
	return ch
}

// Subscribe returns a channel of status events and a function that ends
// the subscription. Events are dropped for subscribers that do not keep up.
func (e *SyncEngine) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 8)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *SyncEngine) publish(ev StatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *SyncEngine) run(ctx context.Context, b tenancy.Binding, force bool) *SyncReport {
	start := e.now()
	report := &SyncReport{
		TenantID:      b.TenantID,
		OwnerFarmerID: b.UserID,
		Forced:        force,
		StartedAt:     start,
	}

	if !force {
		if reason := e.skipReason(ctx, b, start); reason != "" {
			report.Status = domain.SyncStatusSkipped
			report.FinishedAt = start
			report.Err = domain.ErrSyncSkipped.WithDetails(reason)
			e.metrics.RecordSyncRun(string(report.Status), 0, 0)
			e.publish(StatusEvent{Status: report.Status, Report: report})
			return report
		}
	}

	e.publish(StatusEvent{Status: domain.SyncStatusSyncing})

	meta, err := e.meta.GetSyncMetadata(ctx)
	if err != nil {
		return e.finish(ctx, report, domain.SyncStatusFailed, err)
	}

	next := meta.Clone()
	next.EntityErrors = nil
	if next.Watermarks == nil {
		next.Watermarks = make(map[domain.EntityType]time.Time)
	}

	report.Entities = make(map[domain.EntityType]*EntityReport)
	var firstErr error
	failed := 0
	types := domain.EntityTypes()
	for _, t := range types {
		er := &EntityReport{}
		report.Entities[t] = er

		// A failed push does not prevent the pull; the merge keeps the
		// unpushed local rows per last-writer-wins.
		err := e.push(ctx, t, er)
		watermark, pullErr := e.pull(ctx, b, t, meta.Watermark(t), er)
		if pullErr == nil && watermark.After(next.Watermark(t)) {
			next.Watermarks[t] = watermark
		}
		if err == nil {
			err = pullErr
		}
		if err != nil {
			er.Error = err.Error()
			if next.EntityErrors == nil {
				next.EntityErrors = make(map[domain.EntityType]string)
			}
			next.EntityErrors[t] = err.Error()
			if firstErr == nil {
				firstErr = err
			}
			failed++
			e.logger.Warn("entity sync failed",
				"tenant_id", b.TenantID,
				"farmer_id", b.UserID,
				"entity_type", t,
				"error", err)
		}
	}
	if len(next.Watermarks) == 0 {
		next.Watermarks = nil
	}

	pending, err := e.rec.CountDirty(ctx)
	if err != nil {
		e.logger.Warn("failed to count pending pushes", "error", err)
		pending = meta.PendingPushCount
	}

	status := domain.SyncStatusSuccess
	switch {
	case failed == len(types):
		status = domain.SyncStatusFailed
	case failed > 0:
		status = domain.SyncStatusPartial
	}

	next.LastSyncStatus = status
	next.PendingPushCount = pending
	next.LastError = ""
	if firstErr != nil {
		next.LastError = firstErr.Error()
	}
	for _, w := range next.Watermarks {
		if w.After(next.LastSyncTime) {
			next.LastSyncTime = w
		}
	}

	report.PendingPush = pending
	report.LastSyncTime = next.LastSyncTime
	if err := e.meta.SetSyncMetadata(ctx, next); err != nil {
		e.logger.Error("failed to store sync metadata", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return e.finish(ctx, report, status, firstErr)
}

func (e *SyncEngine) finish(ctx context.Context, report *SyncReport, status domain.SyncStatus, err error) *SyncReport {
	report.Status = status
	report.Err = err
	report.FinishedAt = e.now()

	e.mu.Lock()
	e.lastRun[report.TenantID+"/"+report.OwnerFarmerID] = report.FinishedAt
	e.mu.Unlock()
	if err := e.meta.SetLastSyncRun(ctx, report.FinishedAt); err != nil {
		e.logger.Warn("failed to store last sync run", "error", err)
	}

	e.metrics.RecordSyncRun(string(status), report.FinishedAt.Sub(report.StartedAt).Seconds(), report.PendingPush)
	e.logger.Info("sync finished",
		"tenant_id", report.TenantID,
		"farmer_id", report.OwnerFarmerID,
		"status", status,
		"pending_push", report.PendingPush,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	e.publish(StatusEvent{Status: status, Report: report})
	return report
}

func (e *SyncEngine) skipReason(ctx context.Context, b tenancy.Binding, now time.Time) string {
	if e.probe != nil && !e.probe.IsOnline(ctx) {
		return "offline"
	}
	e.mu.Lock()
	last, ok := e.lastRun[b.PartitionKey()]
	e.mu.Unlock()
	if !ok {
		persisted, err := e.meta.LastSyncRun(ctx)
		if err != nil {
			e.logger.Warn("failed to read last sync run", "error", err)
		}
		last, ok = persisted, err == nil && !persisted.IsZero()
	}
	if ok && now.Sub(last) < e.config.MinInterval {
		return "synced recently"
	}
	return ""
}

// push sends the dirty records of one type in localVersion order and stops
// at the first failure.
func (e *SyncEngine) push(ctx context.Context, t domain.EntityType, er *EntityReport) error {
	dirty, err := e.rec.DirtyRecords(ctx, t)
	if err != nil {
		return syncErr(domain.ErrPushFailed, "", err)
	}

	for _, rec := range dirty {
		if rec.DeletedTombstone && !rec.HasRemote() {
			purged, err := e.rec.PurgeTombstone(ctx, rec)
			if err != nil {
				return syncErr(domain.ErrPushFailed, rec.EntityID, err)
			}
			if purged {
				er.Purged++
				e.metrics.RecordPush(string(t), "purged")
			}
			continue
		}

		res, err := e.remote.PushRecord(ctx, &PushRequest{
			Record:         rec,
			IdempotencyKey: IdempotencyKey(rec),
		})
		if err != nil {
			e.metrics.RecordPush(string(t), "failed")
			return syncErr(domain.ErrPushFailed, rec.EntityID, err)
		}
		if _, err := e.rec.MarkPushed(ctx, rec, res.Version, res.UpdatedAt); err != nil {
			return syncErr(domain.ErrPushFailed, rec.EntityID, err)
		}
		er.Pushed++
		e.metrics.RecordPush(string(t), "pushed")
	}
	return nil
}

// pull merges remote changes of one type newer than since and returns the
// new watermark. On failure the watermark is not advanced so the next run
// pulls the same changes again. When the page limit cuts the pull short,
// the watermark stops below the last timestamp seen, since unfetched rows
// may share it.
func (e *SyncEngine) pull(ctx context.Context, b tenancy.Binding, t domain.EntityType, since time.Time, er *EntityReport) (time.Time, error) {
	latest, belowLatest := since, since
	cursor := ""
	for page := 0; page < e.config.MaxPages; page++ {
		resp, err := e.remote.ChangesSince(ctx, &ChangesRequest{
			TenantID:      b.TenantID,
			OwnerFarmerID: b.UserID,
			EntityType:    t,
			Since:         since,
			Cursor:        cursor,
			Limit:         e.config.PageSize,
		})
		if err != nil {
			e.metrics.RecordPull(string(t), "failed")
			return since, syncErr(domain.ErrPullFailed, "", err)
		}

		for _, remote := range resp.Records {
			if remote.EntityType == "" {
				remote.EntityType = t
			}
			outcome, err := e.rec.ApplyRemote(ctx, remote)
			if err != nil {
				e.metrics.RecordPull(string(t), "failed")
				return since, syncErr(domain.ErrPullFailed, remote.EntityID, err)
			}
			er.Pulled++
			switch outcome {
			case storage.MergeInserted:
				er.Inserted++
			case storage.MergeUpdated:
				er.Updated++
			case storage.MergeDeleted:
				er.Deleted++
			case storage.MergeKeptLocal:
				er.KeptLocal++
			}
			e.metrics.RecordPull(string(t), string(outcome))
			switch at := remote.UpdatedAt.UTC(); {
			case at.After(latest):
				belowLatest, latest = latest, at
			case at.Before(latest) && at.After(belowLatest):
				belowLatest = at
			}
		}

		if resp.NextCursor == "" {
			return latest, nil
		}
		cursor = resp.NextCursor
	}

	e.logger.Debug("pull page limit reached",
		"entity_type", t,
		"max_pages", e.config.MaxPages,
		"watermark", belowLatest)
	return belowLatest, nil
}

// syncErr wraps a per-entity failure with the cause in its message.
func syncErr(base *domain.DomainError, entityID string, cause error) error {
	details := cause.Error()
	if entityID != "" {
		details = entityID + ": " + details
	}
	return base.WithDetails(details).WithCause(cause)
}

// IdempotencyKey derives the push idempotency key of a record version.
// Replays of the same (tenant, owner, type, id, localVersion) share a key.
func IdempotencyKey(rec *domain.LocalRecord) string {
	h := murmur3.New128()
	for _, part := range []string{
		rec.TenantID,
		rec.OwnerFarmerID,
		string(rec.EntityType),
		rec.EntityID,
		strconv.FormatUint(rec.LocalVersion, 10),
	} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
