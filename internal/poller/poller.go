// Package poller owns the background fetch loops that turn the platform's
// request/response history API into continuous per-channel location streams.
//
// The Supervisor keeps at most one poll task per channel. Each task cycles
// through fetch, process, and idle phases: it pulls the stream history from
// the cursor onward, normalizes and persists the points, advances the
// cursor, and hands the accepted points to the broker for live fanout.
// The platform's history window is inclusive at its lower bound, so the
// cursor point can come back on the next cycle; the storage uniqueness
// constraint absorbs the duplicate insert, and the point rides along in
// the batch fanout like any other accepted point.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ver-mac/DRM-VerMap/internal/broker"
	"github.com/ver-mac/DRM-VerMap/internal/drm"
	"github.com/ver-mac/DRM-VerMap/internal/geo"
	"github.com/ver-mac/DRM-VerMap/internal/store"
)

// HistorySource abstracts the platform history call so the poll loop can be
// tested with a mock.
type HistorySource interface {
	FetchHistory(ctx context.Context, deviceID, stream, since string, size int) ([]drm.Point, error)
}

// Persister abstracts sample persistence and cursor recovery.
type Persister interface {
	InsertSamples(ctx context.Context, samples []store.Sample) (inserted, duplicates int, err error)
	LatestTimestamp(ctx context.Context, deviceID string) (ts string, found bool, err error)
}

// Config carries the poll loop timing and sizing knobs.
type Config struct {
	Interval time.Duration // pause between successful cycles
	Backoff  time.Duration // pause after a failed cycle
	PageSize int           // max points per history request
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 15 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	return c
}

// State labels where in its cycle a poll task currently is.
type State string

const (
	StateInit    State = "init"
	StateFetch   State = "fetch"
	StateProcess State = "process"
	StateIdle    State = "idle"
	StateBackoff State = "backoff"
	StateStopped State = "stopped"
)

// TaskStatus is a point-in-time snapshot of one poll task.
type TaskStatus struct {
	Channel   string `json:"channel"`
	DeviceID  string `json:"device_id"`
	Stream    string `json:"stream"`
	State     State  `json:"state"`
	Running   bool   `json:"running"`
	Watermark string `json:"watermark,omitempty"`
	Cycles    int64  `json:"cycles"`
	Failures  int64  `json:"consecutive_failures"`
	LastError string `json:"last_error,omitempty"`
}

// watermarks is the per-channel cursor registry. It outlives individual
// tasks, so a restarted task resumes from the last advanced cursor instead
// of re-reading storage.
type watermarks struct {
	mu sync.Mutex
	m  map[broker.Channel]string
}

func newWatermarks() *watermarks {
	return &watermarks{m: make(map[broker.Channel]string)}
}

func (w *watermarks) get(ch broker.Channel) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts, ok := w.m[ch]
	return ts, ok
}

func (w *watermarks) set(ch broker.Channel, ts string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.m[ch] = ts
}

// task tracks one running poll loop. Status fields are guarded by mu; the
// loop goroutine is the only writer of state.
type task struct {
	channel broker.Channel
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	state     State
	cycles    int64
	failures  int64
	lastError string
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *task) fail(err error) {
	t.mu.Lock()
	t.failures++
	t.lastError = err.Error()
	t.mu.Unlock()
}

func (t *task) cycleDone() {
	t.mu.Lock()
	t.cycles++
	t.failures = 0
	t.lastError = ""
	t.mu.Unlock()
}

func (t *task) snapshot(watermark string) TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskStatus{
		Channel:   t.channel.String(),
		DeviceID:  t.channel.DeviceID,
		Stream:    t.channel.Stream,
		State:     t.state,
		Running:   !t.finished(),
		Watermark: watermark,
		Cycles:    t.cycles,
		Failures:  t.failures,
		LastError: t.lastError,
	}
}

// Supervisor keeps at most one running poll task per channel and restarts
// terminated ones lazily when the channel is next requested.
type Supervisor struct {
	cfg    Config
	source HistorySource
	store  Persister
	broker *broker.Broker

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu    sync.Mutex
	tasks map[broker.Channel]*task
	water *watermarks
}

// NewSupervisor creates a Supervisor. Tasks are only started on demand via
// EnsurePoller.
func NewSupervisor(cfg Config, source HistorySource, persister Persister, br *broker.Broker) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg.withDefaults(),
		source:     source,
		store:      persister,
		broker:     br,
		baseCtx:    ctx,
		baseCancel: cancel,
		tasks:      make(map[broker.Channel]*task),
		water:      newWatermarks(),
	}
}

// EnsurePoller starts a poll task for the channel unless a live one already
// exists. Safe for concurrent use; a terminated task is replaced, a running
// one is left alone. After Shutdown it does nothing.
func (s *Supervisor) EnsurePoller(ch broker.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[ch]; ok && !t.finished() {
		return
	}
	select {
	case <-s.baseCtx.Done():
		return
	default:
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &task{
		channel: ch,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateInit,
	}
	s.tasks[ch] = t

	s.wg.Add(1)
	go s.run(ctx, t)
}

// Shutdown cancels every poll task and waits for them to exit, bounded by
// ctx. No new tasks can start afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports a snapshot of every known task, sorted by channel.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		watermark, _ := s.water.get(t.channel)
		statuses = append(statuses, t.snapshot(watermark))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Channel < statuses[j].Channel })
	return statuses
}

// run is the owner goroutine of one poll task.
func (s *Supervisor) run(ctx context.Context, t *task) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.setState(StateStopped)
	defer t.cancel()

	ch := t.channel
	log := slog.With("device_id", ch.DeviceID, "stream", ch.Stream)
	log.Info("poller started")

	// Resolve the cursor: an already-registered watermark wins, otherwise
	// the newest stored timestamp for the device seeds it. Storage errors
	// here back off like any other cycle failure.
	for {
		if _, ok := s.water.get(ch); ok {
			break
		}
		ts, found, err := s.store.LatestTimestamp(ctx, ch.DeviceID)
		if err == nil {
			if found {
				s.water.set(ch, ts)
				log.Info("cursor seeded from storage", "watermark", ts)
			}
			break
		}
		if ctx.Err() != nil {
			log.Info("poller stopped")
			return
		}
		t.fail(err)
		t.setState(StateBackoff)
		log.Warn("cursor seed failed, backing off", "error", err)
		if !sleepCtx(ctx, s.cfg.Backoff) {
			log.Info("poller stopped")
			return
		}
	}

	for {
		t.setState(StateFetch)
		since, _ := s.water.get(ch)
		points, err := s.source.FetchHistory(ctx, ch.DeviceID, ch.Stream, since, s.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("poller stopped")
				return
			}
			t.fail(err)
			if errors.Is(err, drm.ErrUnauthorized) {
				log.Error("history fetch rejected, stopping poller", "error", err)
				return
			}
			t.setState(StateBackoff)
			log.Warn("history fetch failed, backing off", "error", err)
			if !sleepCtx(ctx, s.cfg.Backoff) {
				log.Info("poller stopped")
				return
			}
			continue
		}

		if len(points) > 0 {
			t.setState(StateProcess)
			if err := s.processBatch(ctx, t, log, points); err != nil {
				if ctx.Err() != nil {
					log.Info("poller stopped")
					return
				}
				t.fail(err)
				t.setState(StateBackoff)
				log.Warn("batch processing failed, backing off", "error", err)
				if !sleepCtx(ctx, s.cfg.Backoff) {
					log.Info("poller stopped")
					return
				}
				continue
			}
		}

		t.cycleDone()
		t.setState(StateIdle)
		if !sleepCtx(ctx, s.cfg.Interval) {
			log.Info("poller stopped")
			return
		}
	}
}

// processBatch normalizes a fetched batch, persists the accepted points,
// advances the cursor to the last accepted timestamp, and fans the points
// out to live subscribers. Malformed points are skipped, not fatal.
func (s *Supervisor) processBatch(ctx context.Context, t *task, log *slog.Logger, points []drm.Point) error {
	ch := t.channel

	samples := make([]store.Sample, 0, len(points))
	skipped := 0
	for _, p := range points {
		coords, ok := geo.ParseValue(p.Value)
		if p.Timestamp == "" || !ok {
			skipped++
			continue
		}
		samples = append(samples, store.Sample{
			DeviceID: ch.DeviceID,
			Ts:       p.Timestamp,
			Lat:      coords.Lat,
			Lon:      coords.Lon,
			Source:   "stream:" + ch.Stream,
		})
	}

	if len(samples) == 0 {
		if skipped > 0 {
			log.Debug("batch had no usable points", "skipped", skipped)
		}
		return nil
	}

	inserted, duplicates, err := s.store.InsertSamples(ctx, samples)
	if err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}

	s.water.set(ch, samples[len(samples)-1].Ts)

	for _, sample := range samples {
		s.broker.Publish(ch, broker.Update{
			DeviceID: sample.DeviceID,
			Ts:       sample.Ts,
			Lat:      sample.Lat,
			Lon:      sample.Lon,
		})
	}

	log.Info("batch processed",
		"points", len(points),
		"accepted", len(samples),
		"skipped", skipped,
		"inserted", inserted,
		"duplicates", duplicates,
	)
	return nil
}

// sleepCtx pauses for d, returning false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
