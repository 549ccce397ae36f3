package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dhcgn/email-proc/config"
	"github.com/dhcgn/email-proc/filter"
	"github.com/dhcgn/email-proc/model"
	"github.com/dhcgn/email-proc/state"
	"github.com/dhcgn/email-proc/stats"
)

type StageFunc func(context.Context) error

// Runner wires an archive pipeline: a producer stage writes envelopes, the
// bridge counts, filters and de-duplicates them, and one consumer reads the
// survivors from Parsed. Every stats subscriber sees every event.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	envelopes chan model.Envelope
	parsed    chan model.Envelope
	events    chan stats.Event

	filter  *filter.Filter
	tracker state.Tracker

	subMu       sync.Mutex
	subscribers []chan stats.Event

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeParsedOnce  sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var f *filter.Filter
	if opts := cfg.FilterOptions(); opts.Active() {
		var err error
		if f, err = filter.New(opts); err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		envelopes: make(chan model.Envelope, 32),
		parsed:    make(chan model.Envelope, 32),
		events:    make(chan stats.Event, 128),
		filter:    f,
		tracker:   state.NewMemoryTracker(),
	}

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// Tracker holds the Message-IDs seen so far.
func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

// Filter returns the configured message filter, nil without patterns.
func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.envelopes
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.envelopes)
	})
}

// Parsed delivers the envelopes that passed the bridge, failed parses
// included. It is closed once the producer is done.
func (r *Runner) Parsed() <-chan model.Envelope {
	return r.parsed
}

// OnParsed adds a consumer stage calling fn for every envelope of Parsed.
func (r *Runner) OnParsed(name string, fn func(context.Context, model.Envelope) error) {
	r.AddStage(name, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case env, ok := <-r.parsed:
				if !ok {
					return nil
				}
				if err := fn(ctx, env); err != nil {
					return err
				}
			}
		}
	})
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers fn to receive every event. Subscribers must be
// added before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	fanoutDone := make(chan struct{})
	go r.fanout(fanoutDone)

	r.workWG.Wait()
	r.closeEvents()
	<-fanoutDone
	r.statsWG.Wait()

	r.cancel()

	err := r.Err()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// Err returns the first stage error.
func (r *Runner) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fanout(done chan<- struct{}) {
	defer close(done)

	r.subMu.Lock()
	subscribers := append([]chan stats.Event(nil), r.subscribers...)
	r.subMu.Unlock()
	defer func() {
		for _, ch := range subscribers {
			close(ch)
		}
	}()

	for evt := range r.events {
		for _, ch := range subscribers {
			select {
			case ch <- evt:
			case <-r.ctx.Done():
			}
		}
	}
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeParsed()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-r.envelopes:
			if !ok {
				return nil
			}

			forward, err := r.admit(&env)
			if err != nil {
				return err
			}
			if !forward {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.parsed <- env:
			}
		}
	}
}

// admit emits the events of env and reports whether the consumer gets it.
// A filter error turns env into a failed envelope.
func (r *Runner) admit(env *model.Envelope) (bool, error) {
	if env.Err == nil && r.filter != nil {
		allowed, err := r.filter.AllowsMessage(env.Message)
		if err != nil {
			env.Err = fmt.Errorf("filter message %d: %w", env.Index, err)
			env.Message = nil
		} else if !allowed {
			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Index: env.Index, MessageID: env.ID, Size: env.Message.Size()})
			r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFiltered, Index: env.Index, MessageID: env.ID})
			return false, nil
		}
	}

	if env.Err != nil {
		r.logger.Debug("message failed", "index", env.Index, "err", env.Err)
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeFailed, Index: env.Index, Err: env.Err})
		return true, nil
	}

	r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeParsed, Index: env.Index, MessageID: env.ID, Size: env.Message.Size()})

	if r.cfg.KeepDuplicates || env.ID == "" {
		return true, nil
	}
	if r.tracker.Seen(env.ID) {
		r.logger.Debug("duplicate message", "index", env.Index, "messageID", env.ID)
		r.EmitEvent(stats.Event{Stage: stats.StageParse, Type: stats.EventTypeDuplicate, Index: env.Index, MessageID: env.ID})
		return false, nil
	}
	if err := r.tracker.Mark(env.ID, strconv.Itoa(env.Index)); err != nil {
		return false, fmt.Errorf("mark message id: %w", err)
	}
	return true, nil
}

func (r *Runner) closeParsed() {
	r.closeParsedOnce.Do(func() {
		close(r.parsed)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
