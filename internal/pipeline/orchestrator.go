package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/destination"
	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/raaihank/case-sentinel/internal/redaction"
	"github.com/raaihank/case-sentinel/internal/safety"
	"github.com/raaihank/case-sentinel/internal/source"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when Run is called while another run is active
var ErrRunInProgress = errors.New("sync run already in progress")

// RunResult summarizes one sync run
type RunResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Skipped    int64         `json:"skipped"`
	Accepted   int64         `json:"accepted"`
	Rejected   int64         `json:"rejected"`
	Failed     int64         `json:"failed"`
}

type counters struct {
	skipped, accepted, rejected, failed atomic.Int64
}

// Orchestrator pulls candidates from the source, filters and evaluates each
// one, and hands accepted records to the destination as drafts.
type Orchestrator struct {
	source    source.Source
	publisher destination.Publisher
	evaluator *safety.Evaluator
	settings  *config.SettingsStore
	cfg       config.SyncConfig
	logger    *logger.Logger

	running   atomic.Bool
	mu        sync.Mutex
	listeners []func(RunResult)
	last      *RunResult
}

// NewOrchestrator wires an orchestrator
func NewOrchestrator(src source.Source, pub destination.Publisher, evaluator *safety.Evaluator,
	settings *config.SettingsStore, cfg config.SyncConfig, log *logger.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		source:    src,
		publisher: pub,
		evaluator: evaluator,
		settings:  settings,
		cfg:       cfg,
		logger:    log.WithComponent("sync"),
	}
}

// OnRun registers a callback invoked after every completed run
func (o *Orchestrator) OnRun(fn func(RunResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// LastRun returns the result of the most recent run, if any
func (o *Orchestrator) LastRun() *RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// Run performs one sync pass. Per-record failures are counted and logged;
// only a failure to list candidates aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	settings := o.settings.Get()
	result := &RunResult{StartedAt: time.Now().UTC()}

	records, err := o.source.Candidates(ctx, source.CandidateQuery{
		MinRelevancy: settings.RelevancyThreshold,
		ContentTypes: o.cfg.ContentTypes,
		Limit:        o.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	result.Candidates = len(records)

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)

	for _, rec := range records {
		// the source query already filters these; never trust it alone
		if rec.Synced || rec.RelevancyScore < settings.RelevancyThreshold {
			c.skipped.Add(1)
			continue
		}
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			o.process(gctx, rec, settings, &c)
			return nil
		})
	}
	_ = g.Wait()

	result.Skipped = c.skipped.Load()
	result.Accepted = c.accepted.Load()
	result.Rejected = c.rejected.Load()
	result.Failed = c.failed.Load()
	result.Duration = time.Since(result.StartedAt)

	o.logger.Info("Sync run completed",
		zap.Int("candidates", result.Candidates),
		zap.Int64("accepted", result.Accepted),
		zap.Int64("rejected", result.Rejected),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	o.mu.Lock()
	o.last = result
	listeners := append([]func(RunResult){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(*result)
	}

	return result, ctx.Err()
}

func (o *Orchestrator) process(ctx context.Context, rec source.Record, settings config.Settings, c *counters) {
	log := o.logger.WithRecordID(rec.ID)
	contentType := redaction.ParseContentType(rec.ContentType)

	decision := o.evaluator.Evaluate(rec.RawText, contentType, recordMetadata(rec), rec.RelevancyScore, settings)
	if !decision.Safe {
		c.rejected.Add(1)
		log.Debug("Record rejected", zap.String("reason", decision.Reason))
		return
	}

	destinationID, err := o.publisher.CreateDraft(ctx, destination.Draft{
		SourceID:    rec.ID,
		ContentType: string(contentType),
		Title:       draftTitle(contentType),
		Body:        decision.Filtered,
		Relevancy:   rec.RelevancyScore,
	})
	if err != nil {
		c.failed.Add(1)
		log.Error("Failed to create draft", zap.Error(err))
		return
	}

	if err := o.source.MarkSynced(ctx, rec.ID, destinationID); err != nil {
		c.failed.Add(1)
		if errors.Is(err, source.ErrAlreadySynced) {
			log.Warn("Record was synced concurrently", zap.String("destination_id", destinationID))
			return
		}
		log.Error("Failed to mark record synced",
			zap.String("destination_id", destinationID),
			zap.Error(err))
		return
	}

	c.accepted.Add(1)
	log.Debug("Draft created", zap.String("destination_id", destinationID))
}

// Loop runs immediately and then every interval until ctx is cancelled
func (o *Orchestrator) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = o.cfg.Interval
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := o.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("Sync run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// recordMetadata copies the record metadata, filling in the record's own
// relevancy score when the metadata lacks one.
func recordMetadata(rec source.Record) map[string]any {
	meta := make(map[string]any, len(rec.RawMetadata)+1)
	for k, v := range rec.RawMetadata {
		meta[k] = v
	}
	if _, ok := redaction.Relevancy(meta); !ok {
		meta[redaction.RelevancyKey] = rec.RelevancyScore
	}
	return meta
}

func draftTitle(ct redaction.ContentType) string {
	switch ct {
	case redaction.TimelineEvent:
		return "Timeline update"
	case redaction.CourtHearing:
		return "Court hearing update"
	case redaction.DocumentSummary:
		return "Document summary"
	default:
		return "Case update"
	}
}
