package generation

import (
	"context"
	"errors"
	"time"

	"annexbot/internal/domain"
	"annexbot/internal/infra"
)

const defaultQuietWindow = 1500 * time.Millisecond

// AggregatorStore is the slice of the datastore the aggregator needs.
type AggregatorStore interface {
	GetAccount(ctx context.Context, tgID int64) (*domain.Account, error)
	AddPendingInput(ctx context.Context, tgID int64, fileRef string, limit int) (int, error)
	ConsumePendingInputs(ctx context.Context, tgID int64) ([]string, error)
	ClearPendingInputs(ctx context.Context, tgID int64) error
}

// AddStatus tells the caller what happened to a submitted input.
type AddStatus int

const (
	// InputAccepted means the input landed in the pending queue.
	InputAccepted AddStatus = iota
	// InputRejectedCap means the queue is at the model's cap and the
	// input was discarded.
	InputRejectedCap
	// InputBuffered means the input joined a burst group and will reach
	// the queue when the group settles.
	InputBuffered
)

// AddResult carries the status plus the queue occupancy for user feedback.
type AddResult struct {
	Status AddStatus
	Count  int
	Cap    int
}

// FlushNotifier is called after a burst group lands in the queue, with the
// resulting occupancy, so the front end can tell the user.
type FlushNotifier func(chatID int64, count, capacity int)

// Aggregator collects per-account media inputs ahead of job submission:
// single attachments go straight to the pending queue, album members are
// debounced through the burst buffer first.
type Aggregator struct {
	store  AggregatorStore
	albums BurstBuffer
	window time.Duration
	notify FlushNotifier
	log    infra.Logger
}

type AggregatorOption func(*Aggregator)

// WithBurstBuffer substitutes the burst buffer, mainly for tests.
func WithBurstBuffer(b BurstBuffer) AggregatorOption {
	return func(a *Aggregator) { a.albums = b }
}

// WithQuietWindow overrides the album debounce window.
func WithQuietWindow(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.window = d }
}

// WithFlushNotifier sets the occupancy callback for settled albums.
func WithFlushNotifier(fn FlushNotifier) AggregatorOption {
	return func(a *Aggregator) { a.notify = fn }
}

func NewAggregator(store AggregatorStore, log infra.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{store: store, window: defaultQuietWindow, log: log}
	for _, opt := range opts {
		opt(a)
	}
	if a.albums == nil {
		a.albums = NewTimerBuffer(a.window, a.absorb)
	}
	return a
}

// AddInput routes one media input. A non-empty burstKey marks an album
// member, which is buffered; anything else goes to the queue immediately.
func (a *Aggregator) AddInput(ctx context.Context, account *domain.Account, chatID int64, fileRef, burstKey string) (AddResult, error) {
	if burstKey != "" {
		a.albums.Add(burstKey, account.TgID, chatID, fileRef)
		return AddResult{Status: InputBuffered}, nil
	}

	capacity := domain.InputCapFor(account.CurrentModel)
	count, err := a.store.AddPendingInput(ctx, account.TgID, fileRef, capacity)
	if err != nil {
		if errors.Is(err, domain.ErrPendingInputFull) {
			return AddResult{Status: InputRejectedCap, Count: count, Cap: capacity}, nil
		}
		return AddResult{}, err
	}
	return AddResult{Status: InputAccepted, Count: count, Cap: capacity}, nil
}

// DrainAll forces any buffered albums into the queue, then consumes and
// returns the whole queue in arrival order. The queue is empty afterwards.
func (a *Aggregator) DrainAll(ctx context.Context, tgID int64) ([]string, error) {
	a.albums.FlushAccount(tgID)
	return a.store.ConsumePendingInputs(ctx, tgID)
}

// Reset discards everything the account has staged, buffered or queued.
func (a *Aggregator) Reset(ctx context.Context, tgID int64) error {
	a.albums.Clear(tgID)
	return a.store.ClearPendingInputs(ctx, tgID)
}

// absorb moves a settled burst group into the pending queue, honoring the
// account's current cap. Members past the cap are dropped.
func (a *Aggregator) absorb(f AlbumFlush) {
	ctx := context.Background()

	capacity := domain.InputCapFor("")
	if account, err := a.store.GetAccount(ctx, f.TgID); err == nil {
		capacity = domain.InputCapFor(account.CurrentModel)
	} else {
		a.log.Warn().Err(err).Int64("tg_id", f.TgID).Msg("album flush: account lookup failed")
	}

	var count int
	for _, ref := range f.Refs {
		n, err := a.store.AddPendingInput(ctx, f.TgID, ref, capacity)
		if err != nil {
			if errors.Is(err, domain.ErrPendingInputFull) {
				count = n
				break
			}
			a.log.Error().Err(err).Int64("tg_id", f.TgID).Msg("album flush: enqueue failed")
			continue
		}
		count = n
	}

	if f.Notify && a.notify != nil {
		a.notify(f.ChatID, count, capacity)
	}
}
