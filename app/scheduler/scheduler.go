package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/services"
	"github.com/amirphl/Susanoo/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobActive        = errors.New("job is processing")
	ErrSchedulerClosed  = errors.New("scheduler is shut down")
	ErrTooManyItems     = errors.New("too many items")
	ErrPlatformRequired = errors.New("platform is required")
)

// Archiver receives a snapshot of every job that reaches a terminal status
type Archiver interface {
	Archive(ctx context.Context, snap Snapshot) error
}

// Options tune pacing. Tick is the length of one delay second: the countdown
// decrements once per Tick and delays are expressed in Ticks.
type Options struct {
	Tick                     time.Duration
	VerificationDelaySeconds int
	DispatchTimeout          time.Duration
	MaxItems                 int
	Archiver                 Archiver
}

// JobScheduler owns every job record and drives their pacing loops
type JobScheduler struct {
	accounts services.AccountResolver
	tokens   services.TokenProvider
	client   crm.Client
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	jobs     map[string]*job
	keyLocks map[string]*sync.Mutex
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobScheduler creates a scheduler. Call Shutdown when the process exits.
func NewJobScheduler(accounts services.AccountResolver, tokens services.TokenProvider, client crm.Client, opts Options, logger zerolog.Logger) *JobScheduler {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.VerificationDelaySeconds <= 0 {
		opts.VerificationDelaySeconds = utils.DefaultVerificationDelaySeconds
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		accounts: accounts,
		tokens:   tokens,
		client:   client,
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		jobs:     make(map[string]*job),
		keyLocks: make(map[string]*sync.Mutex),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start creates a fresh job and dispatches its first item immediately. When the
// key is already Processing nothing changes and started is false.
func (s *JobScheduler) Start(accountID string, platform crm.Platform, items []string, delaySeconds int, form FormData) (snap Snapshot, started bool, err error) {
	if platform == nil {
		return Snapshot{}, false, ErrPlatformRequired
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	items = utils.NormalizeItems(items)
	if s.opts.MaxItems > 0 && len(items) > s.opts.MaxItems {
		return Snapshot{}, false, fmt.Errorf("%w: %d exceeds %d", ErrTooManyItems, len(items), s.opts.MaxItems)
	}

	key := JobKey(platform.Name(), accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, false, ErrSchedulerClosed
	}

	if old, ok := s.jobs[key]; ok {
		if old.status == StatusProcessing {
			return old.snapshot(), false, nil
		}
		s.disarm(old)
	}

	j := &job{
		key:          key,
		runID:        uuid.NewString(),
		accountID:    accountID,
		platform:     platform,
		items:        items,
		results:      make([]*ResultRecord, 0, len(items)),
		status:       StatusProcessing,
		delaySeconds: delaySeconds,
		form:         form,
		startedAt:    utils.UTCNow(),
	}
	s.jobs[key] = j
	jobsStartedTotal.WithLabelValues(platform.Name()).Inc()

	s.logger.Info().
		Str("job_key", key).
		Str("run_id", j.runID).
		Int("items", len(items)).
		Int("delay_seconds", delaySeconds).
		Bool("send_email", form.SendEmail).
		Bool("check_status", form.CheckStatus).
		Msg("job started")

	if len(items) == 0 {
		s.finish(j, StatusCompleted)
	} else {
		epoch := j.epoch
		go s.fire(j, epoch)
	}
	s.refreshGauges()
	return j.snapshot(), true, nil
}

// Pause holds a Processing job after its in-flight item. changed is false when
// the job was not Processing.
func (s *JobScheduler) Pause(key string) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.status != StatusProcessing {
		return false, nil
	}
	s.disarm(j)
	j.status = StatusPaused
	s.refreshGauges()
	s.logger.Info().Str("job_key", key).Int("cursor", j.cursor).Msg("job paused")
	return true, nil
}

// Resume re-arms a Paused job from its cursor with a fresh full delay
func (s *JobScheduler) Resume(key string) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.status != StatusPaused {
		return false, nil
	}
	j.status = StatusProcessing
	// An in-flight dispatch reschedules itself when it lands
	if !j.inFlight {
		s.arm(j)
	}
	s.refreshGauges()
	s.logger.Info().Str("job_key", key).Int("cursor", j.cursor).Msg("job resumed")
	return true, nil
}

// Stop ends a Processing or Paused job. Results are kept.
func (s *JobScheduler) Stop(key string) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return false, ErrJobNotFound
	}
	if j.status.IsTerminal() {
		return false, nil
	}
	s.disarm(j)
	s.finish(j, StatusStopped)
	s.refreshGauges()
	return true, nil
}

// Reset forgets a job that is not Processing
func (s *JobScheduler) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return ErrJobNotFound
	}
	if j.status == StatusProcessing {
		return ErrJobActive
	}
	s.disarm(j)
	delete(s.jobs, key)
	s.refreshGauges()
	s.logger.Info().Str("job_key", key).Msg("job reset")
	return nil
}

// Status returns a snapshot of every known job
func (s *JobScheduler) Status() map[string]Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Snapshot, len(s.jobs))
	for key, j := range s.jobs {
		out[key] = j.snapshot()
	}
	return out
}

// Job returns the snapshot of one job
func (s *JobScheduler) Job(key string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[key]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Shutdown cancels every timer, refuses new starts and waits for in-flight
// dispatches, verifications and archives until ctx expires. Verifications still
// waiting are abandoned and their records stay Pending.
func (s *JobScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, j := range s.jobs {
		s.disarm(j)
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// arm installs the countdown ticker and the one-shot dispatch timer. Caller holds mu.
func (s *JobScheduler) arm(j *job) {
	s.disarm(j)
	epoch := j.epoch
	j.countdown = j.delaySeconds
	j.timer = time.AfterFunc(time.Duration(j.delaySeconds)*s.opts.Tick, func() {
		s.fire(j, epoch)
	})

	stop := make(chan struct{})
	j.tickerStop = stop
	go func() {
		t := time.NewTicker(s.opts.Tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-t.C:
				s.mu.Lock()
				if j.epoch == epoch && j.countdown > 0 {
					j.countdown--
				}
				s.mu.Unlock()
			}
		}
	}()
}

// disarm cancels both timers and invalidates callbacks already in flight. Caller holds mu.
func (s *JobScheduler) disarm(j *job) {
	j.epoch++
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if j.tickerStop != nil {
		close(j.tickerStop)
		j.tickerStop = nil
	}
}

// finish moves j to a terminal status and hands it to the archiver. Caller holds mu.
func (s *JobScheduler) finish(j *job, status JobStatus) {
	j.status = status
	j.countdown = 0
	j.finishedAt = utils.UTCNowPtr()
	jobsFinishedTotal.WithLabelValues(j.platform.Name(), string(status)).Inc()

	ev := s.logger.Info()
	if status == StatusFailed {
		ev = s.logger.Warn().Str("error", j.lastError)
	}
	ev.Str("job_key", j.key).
		Str("run_id", j.runID).
		Str("status", string(status)).
		Int("cursor", j.cursor).
		Int("total", len(j.items)).
		Msg("job finished")

	if s.opts.Archiver == nil || s.closed {
		return
	}
	snap := j.snapshot()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.DispatchTimeout)
		defer cancel()
		if err := s.opts.Archiver.Archive(ctx, snap); err != nil {
			s.logger.Error().Err(err).Str("job_key", snap.Key).Str("run_id", snap.RunID).Msg("failed to archive job run")
		}
	}()
}

// keyLock serialises dispatches of one key, including across a replacing start. Caller holds mu.
func (s *JobScheduler) keyLock(key string) *sync.Mutex {
	l, ok := s.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[key] = l
	}
	return l
}

func (s *JobScheduler) refreshGauges() {
	counts := map[JobStatus]int{
		StatusProcessing: 0,
		StatusPaused:     0,
		StatusStopped:    0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, j := range s.jobs {
		counts[j.status]++
	}
	for status, n := range counts {
		jobsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
