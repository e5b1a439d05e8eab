// Package pipeline runs the background analysis jobs: one job per
// uploaded call, transcribe then analyze then persist. Each job
// carries its own cancellation token; cancelling one call never
// touches another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callviewhq/callview/internal/ai"
	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/metrics"
)

const queueSize = 128

type job struct {
	callID string
	retry  bool
}

// Pipeline is the fixed worker pool consuming uploaded calls.
type Pipeline struct {
	db         *db.DB
	ai         ai.Client
	uploadsDir string
	workers    int
	log        logrus.FieldLogger

	jobs chan job
	wg   sync.WaitGroup

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a pipeline. Start must be called before Enqueue.
func New(
	database *db.DB, client ai.Client, uploadsDir string, workers int,
) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Pipeline{
		db:         database,
		ai:         client,
		uploadsDir: uploadsDir,
		workers:    workers,
		log: logrus.StandardLogger().
			WithField("component", "pipeline"),
		jobs:    make(chan job, queueSize),
		ctx:     ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.WithField("workers", p.workers).Info("pipeline started")
}

// Stop cancels all running jobs and waits for the workers to
// drain. Queued jobs that never started stay in their uploaded
// status and are requeued on the next startup.
func (p *Pipeline) Stop() {
	p.stop()
	close(p.jobs)
	p.wg.Wait()
}

// Enqueue schedules a call for processing. retry selects the
// replace-analysis path for calls that already have a row.
func (p *Pipeline) Enqueue(callID string, retry bool) error {
	select {
	case p.jobs <- job{callID: callID, retry: retry}:
		return nil
	default:
		return errors.New("pipeline queue is full")
	}
}

// Requeue re-enqueues calls left in uploaded or processing status
// by a previous run.
func (p *Pipeline) Requeue(ctx context.Context) error {
	for _, status := range []string{
		db.StatusUploaded, db.StatusProcessing,
	} {
		calls, err := p.db.ListCallsByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("listing %s calls: %w", status, err)
		}
		for _, c := range calls {
			if err := p.Enqueue(c.ID, false); err != nil {
				return err
			}
		}
		if len(calls) > 0 {
			p.log.WithFields(logrus.Fields{
				"status": status,
				"count":  len(calls),
			}).Info("requeued interrupted calls")
		}
	}
	return nil
}

// Cancel stops one call. A running job is cancelled through its
// own token; a call still waiting in the queue is marked cancelled
// directly and skipped when a worker picks it up.
func (p *Pipeline) Cancel(ctx context.Context, callID string) error {
	p.mu.Lock()
	cancel, running := p.cancels[callID]
	p.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	call, err := p.db.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call == nil {
		return fmt.Errorf("call %s not found", callID)
	}
	switch call.Status {
	case db.StatusUploaded, db.StatusProcessing:
		return p.db.SetCallStatus(ctx, callID, db.StatusCancelled, "")
	default:
		return fmt.Errorf(
			"call %s is %s, nothing to cancel", callID, call.Status,
		)
	}
}

func (p *Pipeline) register(callID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.cancels[callID] = cancel
	p.mu.Unlock()
	return ctx, func() {
		p.mu.Lock()
		delete(p.cancels, callID)
		p.mu.Unlock()
		cancel()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		if p.ctx.Err() != nil {
			return
		}
		p.process(j)
	}
}

func (p *Pipeline) process(j job) {
	log := p.log.WithField("call_id", j.callID)

	call, err := p.db.GetCall(p.ctx, j.callID)
	if err != nil {
		log.WithError(err).Error("loading call")
		return
	}
	if call == nil {
		log.Warn("call disappeared before processing")
		return
	}
	if call.Status == db.StatusCancelled {
		return
	}

	ctx, done := p.register(j.callID)
	defer done()

	metrics.CallsInFlight.Inc()
	start := time.Now()
	defer func() {
		metrics.CallsInFlight.Dec()
		metrics.ProcessingTime.Observe(time.Since(start).Seconds())
	}()

	if err := p.db.SetCallStatus(
		ctx, j.callID, db.StatusProcessing, "",
	); err != nil {
		log.WithError(err).Error("marking call processing")
		return
	}

	err = p.run(ctx, call, j.retry)
	switch {
	case err == nil:
		metrics.CallsProcessed.WithLabelValues(db.StatusCompleted).Inc()
		log.Info("call processed")

	case errors.Is(err, context.Canceled):
		// Status updates use the background context: the job's
		// own context is already dead.
		if serr := p.db.SetCallStatus(
			context.Background(), j.callID, db.StatusCancelled, "",
		); serr != nil {
			log.WithError(serr).Error("marking call cancelled")
		}
		metrics.CallsProcessed.WithLabelValues(db.StatusCancelled).Inc()
		log.Info("call cancelled")

	default:
		if serr := p.db.SetCallStatus(
			context.Background(), j.callID, db.StatusFailed, err.Error(),
		); serr != nil {
			log.WithError(serr).Error("marking call failed")
		}
		metrics.CallsProcessed.WithLabelValues(db.StatusFailed).Inc()
		log.WithError(err).Error("call failed")
	}
}

// run executes one call end to end. Any returned error fails the
// call; a context.Canceled error cancels it instead.
func (p *Pipeline) run(
	ctx context.Context, call *db.Call, retry bool,
) error {
	audioPath := filepath.Join(p.uploadsDir, call.Filename)

	segments, err := p.ai.Transcribe(ctx, audioPath)
	if err != nil {
		return fmt.Errorf("transcribing: %w", err)
	}
	if err := p.db.SaveTranscription(ctx, call.ID, segments); err != nil {
		return err
	}

	catalog, err := p.db.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	res, err := p.ai.Analyze(
		ctx, segments, catalog.CategoryKeys, catalog.CriterionToCategory,
	)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}

	record := db.AnalysisRecord{
		Category:         res.Category,
		CriteriaScores:   res.Criteria,
		CategoryMistakes: res.Mistakes,
		ClientComplaints: res.Complaints,
		OverallScore:     res.OverallScore(),
	}
	if retry {
		return p.db.ReplaceAnalysis(ctx, call.ID, record)
	}
	return p.db.SaveAnalysis(ctx, call.ID, record)
}
