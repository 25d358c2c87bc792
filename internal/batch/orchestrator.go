// Package batch runs a parsed spec against the remote queue: it expands
// entries into units, drives every unit through resolve, materialize, submit
// and poll on a bounded worker pool, and reports the tally.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryabkov82/comfy-batch/internal/client"
	"github.com/ryabkov82/comfy-batch/internal/job"
	"github.com/ryabkov82/comfy-batch/internal/promptspec"
	"github.com/ryabkov82/comfy-batch/internal/workflow"
)

// ErrRunInProgress is returned when Run is called while another run is active
var ErrRunInProgress = errors.New("batch run already in progress")

// SpecParser reads a spec file into entries
type SpecParser interface {
	Parse(ctx context.Context, path string) (*promptspec.Result, error)
}

// TemplateResolver returns a private template copy for a job type
type TemplateResolver interface {
	Resolve(ctx context.Context, jobType string) (*workflow.Template, error)
}

// RemoteQueue submits jobs and waits for their outcome
type RemoteQueue interface {
	Submit(ctx context.Context, tmpl *workflow.Template) (string, error)
	PollUntilDone(ctx context.Context, promptID string, timeout time.Duration) job.Outcome
}

// OnFailure is called once for every unit that ends failed or timed out,
// except units stopped by cancellation. cause is nil when the failure was
// reported by the remote queue rather than raised locally.
type OnFailure func(u job.Unit, cause error)

// Options configures an Orchestrator
type Options struct {
	Parser       SpecParser
	Templates    TemplateResolver
	Queue        RemoteQueue
	Materializer *workflow.Materializer

	Workers    int
	Pacing     time.Duration
	JobTimeout time.Duration

	Journal   *Journal
	OnFailure OnFailure
	Timings   *Timings
	Logger    *slog.Logger
}

// Orchestrator runs batches
type Orchestrator struct {
	parser       SpecParser
	templates    TemplateResolver
	queue        RemoteQueue
	materializer *workflow.Materializer
	workers      int
	pacing       time.Duration
	jobTimeout   time.Duration
	journal      *Journal
	onFailure    OnFailure
	timings      *Timings
	logger       *slog.Logger

	mu     sync.RWMutex
	store  *job.Store
	cancel context.CancelFunc
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Parser == nil {
		return nil, fmt.Errorf("batch: parser is required")
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("batch: template resolver is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("batch: remote queue is required")
	}

	o := &Orchestrator{
		parser:       opts.Parser,
		templates:    opts.Templates,
		queue:        opts.Queue,
		materializer: opts.Materializer,
		workers:      opts.Workers,
		pacing:       opts.Pacing,
		jobTimeout:   opts.JobTimeout,
		journal:      opts.Journal,
		onFailure:    opts.OnFailure,
		timings:      opts.Timings,
		logger:       opts.Logger,
	}
	if o.materializer == nil {
		o.materializer = workflow.NewMaterializer(nil)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.jobTimeout <= 0 {
		o.jobTimeout = 600 * time.Second
	}
	if o.timings == nil {
		o.timings = NewTimings()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o, nil
}

// Run parses the spec at specPath and processes every unit it describes.
// A missing spec file is returned as an error; unit failures never are.
// When ctx is canceled, units without an outcome are finished as
// Failed("canceled") and ctx's error is returned with the tally.
func (o *Orchestrator) Run(ctx context.Context, specPath string) (job.Tally, error) {
	parseStart := time.Now()
	result, err := o.parser.Parse(ctx, specPath)
	o.timings.ObserveParse(time.Since(parseStart))
	if err != nil {
		return job.Tally{}, err
	}

	if len(result.Entries) == 0 {
		o.logger.Warn("no valid prompts found in spec file",
			"spec", specPath, "lines", result.LinesRead, "malformed", len(result.Malformed))
		return job.Tally{}, nil
	}

	total, err := promptspec.TotalUnits(result.Entries)
	if err != nil {
		return job.Tally{}, fmt.Errorf("expand spec entries: %w", err)
	}
	store := job.NewStore(total)
	if err := enqueueUnits(store, result.Entries); err != nil {
		return job.Tally{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := o.attach(store, cancel); err != nil {
		return job.Tally{}, err
	}
	defer o.detach()

	o.logger.Info("batch started",
		"spec", specPath,
		"entries", len(result.Entries),
		"malformed", len(result.Malformed),
		"units", total,
		"workers", o.workers)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(o.pacing), 1)
	}

	started := time.Now()
	p := newPool(store, func(ctx context.Context, u job.Unit) {
		o.process(ctx, store, limiter, u)
	}, o.logger)
	p.Run(runCtx, o.workers)

	runErr := runCtx.Err()
	if runErr != nil {
		canceled := store.FinishPending(job.Failed(job.ReasonCanceled))
		for _, u := range canceled {
			o.report(u, nil)
		}
		o.logger.Warn("batch interrupted", "canceledUnits", len(canceled))
	}

	tally := store.Tally()
	o.logger.Info("batch finished",
		"total", tally.TotalUnits,
		"completed", tally.Completed,
		"failed", tally.Failed,
		"timedOut", tally.TimedOut,
		"duration", time.Since(started).Round(time.Millisecond))
	o.logger.Debug("stage timings", "timings", o.timings.String())

	return tally, runErr
}

// enqueueUnits adds one unit per (entry, job type, repetition), in file
// order, then ratio order, then repetition
func enqueueUnits(store *job.Store, entries []promptspec.RunEntry) error {
	for _, entry := range entries {
		for _, ratio := range entry.Ratios {
			for rep := 1; rep <= ratio.Count; rep++ {
				_, err := store.Add(&job.Unit{
					Line:       entry.LineNumber,
					JobType:    ratio.JobType,
					Repetition: rep,
					Count:      ratio.Count,
					Text:       entry.Text,
				})
				if err != nil {
					return fmt.Errorf("enqueue unit (line %d, %s %d/%d): %w", entry.LineNumber, ratio.JobType, rep, ratio.Count, err)
				}
			}
		}
	}
	store.Close()
	return nil
}

func (o *Orchestrator) process(ctx context.Context, store *job.Store, limiter *rate.Limiter, u job.Unit) {
	unitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := store.SetCancel(u.ID, cancel); err != nil {
		// Finished (canceled) between dequeue and start
		return
	}
	defer store.ClearCancel(u.ID)

	log := o.logger.With(
		"unit", u.ID,
		"line", u.Line,
		"jobType", u.JobType,
		"repetition", fmt.Sprintf("%d/%d", u.Repetition, u.Count))

	resolveStart := time.Now()
	tmpl, err := o.templates.Resolve(unitCtx, u.JobType)
	o.timings.ObserveResolve(time.Since(resolveStart))
	if err != nil {
		o.fail(store, u.ID, err, log)
		return
	}

	materializeStart := time.Now()
	materialized, err := o.materializer.Materialize(tmpl, u.Text)
	o.timings.ObserveMaterialize(time.Since(materializeStart))
	if err != nil {
		o.fail(store, u.ID, err, log)
		return
	}

	waitStart := time.Now()
	if err := limiter.Wait(unitCtx); err != nil {
		o.finish(store, u.ID, job.Failed(job.ReasonCanceled), nil, log)
		return
	}
	o.timings.ObservePacing(time.Since(waitStart))

	promptID, err := o.queue.Submit(unitCtx, materialized.Template)
	if err != nil {
		if unitCtx.Err() != nil {
			o.finish(store, u.ID, job.Failed(job.ReasonCanceled), nil, log)
			return
		}
		o.fail(store, u.ID, err, log)
		return
	}

	if err := store.MarkSubmitted(u.ID, promptID, materialized.Seeds); err != nil {
		log.Debug("unit finished before submission was recorded", "promptId", promptID, "error", err)
		return
	}
	log.Info("job submitted", "promptId", promptID, "seeds", len(materialized.Seeds))

	pollStart := time.Now()
	outcome := o.queue.PollUntilDone(unitCtx, promptID, o.jobTimeout)
	o.timings.ObservePollWait(time.Since(pollStart))

	o.finish(store, u.ID, outcome, nil, log)
}

func (o *Orchestrator) fail(store *job.Store, id string, err error, log *slog.Logger) {
	o.finish(store, id, job.Failed(failureReason(err)), err, log)
}

func (o *Orchestrator) finish(store *job.Store, id string, outcome job.Outcome, cause error, log *slog.Logger) {
	u, err := store.Finish(id, outcome)
	if err != nil {
		// Another path (cancel) already recorded the outcome
		log.Debug("outcome ignored", "outcome", outcome.String(), "error", err)
		return
	}
	o.report(u, cause)

	t := store.Tally()
	log.Debug("progress", "done", t.Completed+t.Failed, "total", t.TotalUnits)
}

// report logs, journals and forwards a finished unit
func (o *Orchestrator) report(u job.Unit, cause error) {
	outcome := job.Completed()
	if u.Outcome != nil {
		outcome = *u.Outcome
	}

	attrs := []any{"unit", u.ID, "line", u.Line, "jobType", u.JobType, "repetition", fmt.Sprintf("%d/%d", u.Repetition, u.Count)}
	if u.PromptID != "" {
		attrs = append(attrs, "promptId", u.PromptID)
	}

	switch {
	case outcome.Succeeded():
		o.logger.Info("unit completed", attrs...)
	case outcome.Kind == job.OutcomeTimedOut:
		o.logger.Warn("unit timed out", attrs...)
	case outcome.Reason == job.ReasonCanceled:
		o.logger.Info("unit canceled", attrs...)
	default:
		attrs = append(attrs, "reason", outcome.Reason)
		if cause != nil {
			attrs = append(attrs, "error", cause)
		}
		o.logger.Error("unit failed", attrs...)
	}

	if o.journal != nil {
		if err := o.journal.Record(u); err != nil {
			o.logger.Error("failed to write journal record", "unit", u.ID, "error", err)
		}
	}

	if o.onFailure != nil && !outcome.Succeeded() && outcome.Reason != job.ReasonCanceled {
		o.onFailure(u, cause)
	}
}

// failureReason names the error class of a local unit failure
func failureReason(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnknownJobType):
		return err.Error()
	case errors.Is(err, workflow.ErrTemplateLoad):
		return "template load error: " + err.Error()
	case errors.Is(err, client.ErrSubmission):
		return "submission error: " + err.Error()
	default:
		return err.Error()
	}
}

func (o *Orchestrator) attach(store *job.Store, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return ErrRunInProgress
	}
	o.store = store
	o.cancel = cancel
	return nil
}

// detach ends the active run; the last store stays readable
func (o *Orchestrator) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel = nil
}

func (o *Orchestrator) current() *job.Store {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.store
}

// Units lists the units of the current (or last) run
func (o *Orchestrator) Units() []job.Unit {
	store := o.current()
	if store == nil {
		return []job.Unit{}
	}
	return store.List()
}

// Unit returns one unit of the current (or last) run
func (o *Orchestrator) Unit(id string) (job.Unit, error) {
	store := o.current()
	if store == nil {
		return job.Unit{}, fmt.Errorf("%w: %s", job.ErrUnitNotFound, id)
	}
	return store.Get(id)
}

// Tally returns the counts of the current (or last) run
func (o *Orchestrator) Tally() job.Tally {
	store := o.current()
	if store == nil {
		return job.Tally{}
	}
	return store.Tally()
}

// CancelUnit stops a single unit; the rest of the batch continues
func (o *Orchestrator) CancelUnit(id string) error {
	store := o.current()
	if store == nil {
		return fmt.Errorf("%w: %s", job.ErrUnitNotFound, id)
	}
	if err := store.Cancel(id); err != nil {
		return err
	}
	u, err := store.Get(id)
	if err == nil {
		o.report(u, nil)
	}
	return nil
}

// Cancel stops the active run. It reports false when nothing is running.
func (o *Orchestrator) Cancel() bool {
	o.mu.RLock()
	cancel := o.cancel
	o.mu.RUnlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}
