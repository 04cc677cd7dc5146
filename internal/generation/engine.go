package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"annexbot/internal/domain"
	"annexbot/internal/infra"
)

// LedgerStore is the slice of the datastore the engine settles against.
type LedgerStore interface {
	Debit(ctx context.Context, tgID int64, amount int64) error
	Credit(ctx context.Context, tgID int64, amount int64) error
	AddSpent(ctx context.Context, tgID int64, tokens int64) error
	RecordModelUsage(ctx context.Context, tgID int64, model string, tokens int64) error
}

// Deliverer hands a finished asset to the user.
type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, assetURL string) error
}

// InputResolver turns a stored file reference into a fetchable URL.
type InputResolver interface {
	FileURL(ctx context.Context, fileRef string) (string, error)
}

// Reporter receives job lifecycle events for user-facing messaging. Every
// non-success terminal event implies the job's cost was returned.
type Reporter interface {
	JobAccepted(ctx context.Context, chatID int64, queued int)
	JobFailed(ctx context.Context, chatID int64, reason string)
	JobTimedOut(ctx context.Context, chatID int64)
	JobEmptyResult(ctx context.Context, chatID int64)
	InputsDegraded(ctx context.Context, chatID int64, kept, total int)
	DeliveryFailed(ctx context.Context, chatID int64, assetURL string, err error)
}

// Engine owns the generation pipeline: admission, pricing, debit, provider
// submission through the worker pool, polling, delivery, and settlement.
type Engine struct {
	store      LedgerStore
	aggregator *Aggregator
	tracker    AdmissionTracker
	gateway    Gateway
	poller     *Poller
	deliverer  Deliverer
	resolver   InputResolver
	reporter   Reporter
	price      domain.PriceFunc
	log        infra.Logger

	queue   chan domain.Job
	workers int
	wg      sync.WaitGroup
}

type EngineConfig struct {
	Store      LedgerStore
	Aggregator *Aggregator
	Tracker    AdmissionTracker
	Gateway    Gateway
	Poller     *Poller
	Deliverer  Deliverer
	Resolver   InputResolver
	Reporter   Reporter
	Price      domain.PriceFunc
	Workers    int
	QueueSize  int
	Logger     infra.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	price := cfg.Price
	if price == nil {
		price = domain.DefaultPricing
	}
	return &Engine{
		store:      cfg.Store,
		aggregator: cfg.Aggregator,
		tracker:    cfg.Tracker,
		gateway:    cfg.Gateway,
		poller:     cfg.Poller,
		deliverer:  cfg.Deliverer,
		resolver:   cfg.Resolver,
		reporter:   cfg.Reporter,
		price:      price,
		log:        cfg.Logger,
		queue:      make(chan domain.Job, queueSize),
		workers:    workers,
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// canceled; Wait blocks until they exit.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-e.queue:
					e.process(ctx, job)
				}
			}
		}()
	}
}

func (e *Engine) Wait() {
	e.wg.Wait()
}

// ActiveJobs reports how many accounts have a job in flight.
func (e *Engine) ActiveJobs() int {
	return e.tracker.Active()
}

// Submit runs the synchronous half of a generation: admission, pricing,
// debit, and input drain. The job then rides the queue; its admission slot
// travels with it and is released by the worker after settlement.
//
// Synchronous rejections come back as sentinel errors: ErrNoModelSelected,
// ErrAdmissionDenied, ErrInsufficientBalance, ErrPreflightRejected. On
// insufficient balance the staged inputs are discarded; on a preflight
// rejection the debit is returned before the error surfaces.
func (e *Engine) Submit(ctx context.Context, account *domain.Account, chatID int64, prompt string) error {
	if account.CurrentModel == "" {
		return domain.ErrNoModelSelected
	}
	model, ok := domain.ModelByID(account.CurrentModel)
	if !ok {
		return domain.ErrNoModelSelected
	}

	if !e.tracker.TryAcquire(account.TgID) {
		return domain.ErrAdmissionDenied
	}

	cost := e.price(model, account.Settings, 0)

	if err := e.store.Debit(ctx, account.TgID, cost); err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			if resetErr := e.aggregator.Reset(ctx, account.TgID); resetErr != nil {
				e.log.Error().Err(resetErr).Int64("tg_id", account.TgID).Msg("reset pending inputs")
			}
			e.tracker.Release(account.TgID)
			return domain.ErrInsufficientBalance
		}
		e.tracker.Release(account.TgID)
		return fmt.Errorf("debit: %w", err)
	}

	refs, err := e.aggregator.DrainAll(ctx, account.TgID)
	if err != nil {
		e.refund(ctx, account.TgID, cost)
		e.tracker.Release(account.TgID)
		return fmt.Errorf("drain inputs: %w", err)
	}

	if len(refs) < model.MinInputs {
		e.refund(ctx, account.TgID, cost)
		e.tracker.Release(account.TgID)
		return domain.ErrPreflightRejected
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		TgID:      account.TgID,
		ChatID:    chatID,
		Model:     model,
		Settings:  account.Settings,
		Prompt:    prompt,
		InputRefs: refs,
		Cost:      cost,
		State:     domain.JobAdmitted,
	}

	select {
	case e.queue <- job:
	case <-ctx.Done():
		e.refund(ctx, account.TgID, cost)
		e.tracker.Release(account.TgID)
		return ctx.Err()
	}

	e.reporter.JobAccepted(ctx, chatID, len(refs))
	return nil
}

// process runs one job to a terminal state. Settlement and slot release
// happen in the deferred block so that no outcome, panic included, leaves
// the slot held or the debit unreconciled.
func (e *Engine) process(ctx context.Context, job domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("job_id", job.ID).Msg("job worker panicked")
			e.reporter.JobFailed(ctx, job.ChatID, "internal error")
		}
		// A worker that exits without reaching a terminal state failed.
		if !job.State.Terminal() {
			job.State = domain.JobFailed
		}
		e.settle(ctx, job, job.State == domain.JobSucceeded)
		e.tracker.Release(job.TgID)
	}()

	log := e.log.With().Str("job_id", job.ID).Int64("tg_id", job.TgID).
		Str("model", job.Model.ID).Logger()

	inputURLs := e.uploadInputs(ctx, job, log)
	if len(job.InputRefs) > 0 && len(inputURLs) < len(job.InputRefs) {
		e.reporter.InputsDegraded(ctx, job.ChatID, len(inputURLs), len(job.InputRefs))
	}
	if len(inputURLs) < job.Model.MinInputs {
		log.Warn().Int("uploaded", len(inputURLs)).Msg("not enough usable inputs after upload")
		e.reporter.JobFailed(ctx, job.ChatID, "input upload failed")
		return
	}

	taskID, err := e.gateway.CreateTask(ctx, job, inputURLs)
	if err != nil {
		log.Error().Err(err).Msg("create task")
		e.reporter.JobFailed(ctx, job.ChatID, providerReason(err))
		return
	}
	job.TaskID = taskID
	job.State = domain.JobSubmitted
	log = log.With().Str("task_id", taskID).Logger()
	log.Info().Int64("cost", job.Cost).Msg("task submitted")

	job.State = domain.JobPolling
	urls, err := e.poller.Run(ctx, taskID)
	if err != nil {
		var failed *TaskFailedError
		switch {
		case errors.Is(err, ErrPollTimeout):
			job.State = domain.JobTimedOut
			log.Warn().Msg("task timed out")
			e.reporter.JobTimedOut(ctx, job.ChatID)
		case errors.Is(err, domain.ErrEmptyResult):
			e.reporter.JobEmptyResult(ctx, job.ChatID)
		case errors.As(err, &failed):
			log.Warn().Str("reason", failed.Reason).Msg("task failed")
			e.reporter.JobFailed(ctx, job.ChatID, failed.Reason)
		case errors.Is(err, context.Canceled):
			e.reporter.JobFailed(ctx, job.ChatID, "shutting down")
		default:
			log.Error().Err(err).Msg("poll task")
			e.reporter.JobFailed(ctx, job.ChatID, providerReason(err))
		}
		return
	}

	job.State = domain.JobSucceeded
	log.Info().Int("assets", len(urls)).Msg("task succeeded")
	for _, u := range urls {
		if err := e.deliverer.Deliver(ctx, job.ChatID, u); err != nil {
			log.Error().Err(err).Str("url", u).Msg("deliver asset")
			e.reporter.DeliveryFailed(ctx, job.ChatID, u, err)
		}
	}
}

// uploadInputs resolves and mirrors each input ref. A failed member is
// skipped, not fatal; the caller decides whether enough survived.
func (e *Engine) uploadInputs(ctx context.Context, job domain.Job, log infra.Logger) []string {
	var urls []string
	for i, ref := range job.InputRefs {
		src, err := e.resolver.FileURL(ctx, ref)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("resolve input ref")
			continue
		}
		name := fmt.Sprintf("input-%s-%d.jpg", job.ID, i)
		u, err := e.gateway.UploadInput(ctx, src, name)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Msg("upload input")
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// settle closes the ledger side of a terminal job: spend bookkeeping on
// success, a full refund otherwise.
func (e *Engine) settle(ctx context.Context, job domain.Job, success bool) {
	if success {
		if err := e.store.AddSpent(ctx, job.TgID, job.Cost); err != nil {
			e.log.Error().Err(err).Str("job_id", job.ID).Msg("record spend")
		}
		if err := e.store.RecordModelUsage(ctx, job.TgID, job.Model.ID, job.Cost); err != nil {
			e.log.Error().Err(err).Str("job_id", job.ID).Msg("record model usage")
		}
		return
	}
	e.refund(ctx, job.TgID, job.Cost)
}

func (e *Engine) refund(ctx context.Context, tgID, cost int64) {
	if err := e.store.Credit(ctx, tgID, cost); err != nil {
		e.log.Error().Err(err).Int64("tg_id", tgID).Int64("cost", cost).Msg("refund failed")
	}
}

func providerReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
