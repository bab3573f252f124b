package turn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/journal"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/eventbus"
	"github.com/MrWong99/murmur/pkg/provider/vad"
	"github.com/MrWong99/murmur/pkg/types"
)

// DefaultPollInterval is the level sampling period.
const DefaultPollInterval = 150 * time.Millisecond

const journalTimeout = 5 * time.Second

// ErrAlreadyRunning is returned by [Controller.Run] when the controller is
// already running.
var ErrAlreadyRunning = errors.New("turn: controller already running")

// Config configures a [Controller].
type Config struct {
	// Timing holds the silence, retry and max-turn durations.
	Timing Timing

	// PollInterval is how often the input level is sampled. Default 150ms.
	PollInterval time.Duration

	// Greet plays the responder's greeting before the first capture.
	Greet bool

	// Capture is passed to every [audio.Recorder.Start] call.
	Capture audio.CaptureOptions

	// SessionID and Language label journal records.
	SessionID string
	Language  string
}

// Option configures optional Controller behaviour.
type Option func(*Controller)

// WithClock replaces time.Now. now must be safe for concurrent use.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithJournal appends one record per finished pipeline run to j.
func WithJournal(j journal.Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.bufSize = n }
}

// Controller runs the turn loop on a single goroutine: it polls the input
// level, feeds VAD decisions and timer expiries into a [Machine] and performs
// the actions the machine returns. Pipeline runs and playback completion are
// awaited on helper goroutines that report back through an inbox, so all
// loop state is owned by the goroutine inside [Controller.Run].
//
// Failures never escape the loop; they become transitions and [EventError]
// events. Only a denied capture permission or cancellation of the Run context
// ends it.
type Controller struct {
	cfg       Config
	rec       audio.Recorder
	player    audio.Player
	vad       vad.SessionHandle
	responder engine.Responder
	journal   journal.Journal
	metrics   *observe.Metrics
	bus       *eventbus.Bus[Event]
	bufSize   int
	now       func() time.Time

	inbox chan any

	// Owned by the Run goroutine.
	m         Machine
	recording audio.Recording
	playback  audio.Playback
	playGen   uint64
	reply     audio.Clip
	silence   *time.Timer
	retry     *time.Timer
	captureAt time.Time
	speechAt  time.Time
	fatal     error
	wg        sync.WaitGroup

	running  atomic.Bool
	state    atomic.Int32
	lastPoll atomic.Int64
	floor    atomic.Uint64
}

// New creates a Controller. det must not be shared with another caller.
func New(cfg Config, rec audio.Recorder, player audio.Player, det vad.SessionHandle, responder engine.Responder, opts ...Option) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	c := &Controller{
		cfg:       cfg,
		rec:       rec,
		player:    player,
		vad:       det,
		responder: responder,
		bufSize:   eventbus.DefaultBuffer,
		now:       time.Now,
		inbox:     make(chan any, 8),
		m:         NewMachine(cfg.Timing),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.bus = eventbus.New[Event](c.bufSize)
	c.silence = stoppedTimer()
	c.retry = stoppedTimer()
	c.floor.Store(math.Float64bits(det.NoiseFloor()))
	return c
}

func stoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// Subscribe returns a subscription to the controller's events. Slow
// subscribers lose events instead of stalling the loop.
func (c *Controller) Subscribe() *eventbus.Subscription[Event] { return c.bus.Subscribe() }

// State returns the most recently entered state. Safe for concurrent use.
func (c *Controller) State() State { return State(c.state.Load()) }

// Running reports whether Run is executing.
func (c *Controller) Running() bool { return c.running.Load() }

// LastPoll returns the time of the most recent level poll tick, or the zero
// time before the first one.
func (c *Controller) LastPoll() time.Time {
	n := c.lastPoll.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// PollInterval returns the configured level sampling period.
func (c *Controller) PollInterval() time.Duration { return c.cfg.PollInterval }

// NoiseFloor returns the latest noise floor estimate in dBFS. Safe for
// concurrent use; suitable as an [observe.Metrics.ObserveNoiseFloor] source.
func (c *Controller) NoiseFloor() float64 { return math.Float64frombits(c.floor.Load()) }

// Run executes the loop until ctx is cancelled, in which case it returns nil,
// or until capture permission is permanently denied. Recording, playback and
// timers are released on every exit path. Run may only be called once at a
// time.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		c.release(ctx)
		cancel()
		c.wg.Wait()
		c.bus.Close()
	}()

	log := observe.Logger(ctx)
	if err := c.rec.RequestPermission(ctx); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("turn: %w", err)
		}
		log.Warn("turn: permission request failed", "err", err)
	}

	c.m = NewMachine(c.cfg.Timing)
	c.fatal = nil
	c.apply(ctx, Start{At: c.now(), Greet: c.cfg.Greet})

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for c.fatal == nil {
		select {
		case <-ctx.Done():
			c.apply(ctx, Teardown{})
			return nil
		case <-ticker.C:
			c.poll(ctx)
		case <-c.silence.C:
			c.apply(ctx, SilenceElapsed{At: c.now()})
		case <-c.retry.C:
			c.apply(ctx, RetryElapsed{At: c.now()})
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		}
	}
	return c.fatal
}

// ─── loop internals ──────────────────────────────────────────────────────────

type pipelineDone struct {
	res engine.Result
	err error
}

type greetingReady struct {
	clip audio.Clip
	err  error
}

type playbackDone struct {
	gen uint64
	err error
}

func (c *Controller) post(ctx context.Context, msg any) {
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
	}
}

func (c *Controller) poll(ctx context.Context) {
	now := c.now()
	c.lastPoll.Store(now.UnixNano())
	if c.recording == nil {
		return
	}

	level, err := c.recording.Level()
	if err == nil {
		var dec vad.Decision
		dec, err = c.vad.ProcessLevel(level)
		if err == nil {
			c.floor.Store(math.Float64bits(dec.NoiseFloor))
			c.bus.Publish(Event{Kind: EventLevel, At: now, Decision: dec})
			c.apply(ctx, Frame{At: now, Decision: dec})
			return
		}
	}

	observe.Logger(ctx).Warn("turn: level read failed", "err", err)
	c.stopRecording(ctx)
	c.publishError(err)
	c.apply(ctx, CaptureFailed{Err: err, Permanent: errors.Is(err, audio.ErrPermissionDenied)})
}

func (c *Controller) handle(ctx context.Context, msg any) {
	switch msg := msg.(type) {
	case pipelineDone:
		if msg.err != nil {
			observe.Logger(ctx).Warn("turn: response pipeline failed", "err", msg.err)
			c.publishError(msg.err)
		}
		c.bus.Publish(Event{Kind: EventTurn, At: c.now(), Result: msg.res, Err: msg.err})
		if msg.res.Outcome == engine.OutcomeReply {
			c.reply = msg.res.Audio
		}
		c.apply(ctx, PipelineFinished{Outcome: msg.res.Outcome})

	case greetingReady:
		if c.m.State() != StatePlaying || c.playback != nil {
			return
		}
		if msg.err != nil {
			observe.Logger(ctx).Warn("turn: greeting failed", "err", msg.err)
			c.publishError(msg.err)
		}
		if msg.err != nil || msg.clip.Empty() {
			c.apply(ctx, PlaybackFinished{Err: msg.err})
			return
		}
		c.play(ctx, msg.clip)

	case playbackDone:
		if msg.gen != c.playGen || c.playback == nil {
			return
		}
		c.playback = nil
		if msg.err != nil {
			observe.Logger(ctx).Warn("turn: playback failed", "err", msg.err)
		}
		c.apply(ctx, PlaybackFinished{Err: msg.err})
	}
}

// apply feeds in to the machine, publishes the resulting transition and
// executes the returned actions. Actions may feed further inputs.
func (c *Controller) apply(ctx context.Context, in Input) {
	from := c.m.State()
	acts := c.m.Apply(in)
	if to := c.m.State(); to != from {
		c.transition(ctx, from, to)
	}
	for _, a := range acts {
		c.do(ctx, a)
	}
}

func (c *Controller) transition(ctx context.Context, from, to State) {
	now := c.now()
	c.state.Store(int32(to))
	c.metrics.RecordTransition(ctx, from.String(), to.String())
	if to == StateSpeechConfirmed {
		c.speechAt = now
		if !c.captureAt.IsZero() {
			c.metrics.SpeechConfirmLatency.Record(ctx, now.Sub(c.captureAt).Seconds())
		}
	}
	observe.Logger(ctx).Debug("turn: transition", "from", from, "to", to)
	c.bus.Publish(Event{Kind: EventState, At: now, From: from, To: to})
}

func (c *Controller) do(ctx context.Context, a Action) {
	switch a := a.(type) {
	case StartCapture:
		c.startCapture(ctx)
	case Greet:
		c.greet(ctx)
	case ArmSilence:
		c.silence.Reset(max(a.Deadline.Sub(c.now()), 0))
	case CancelSilence:
		c.silence.Stop()
	case Process:
		c.process(ctx)
	case Play:
		clip := c.reply
		c.reply = audio.Clip{}
		c.play(ctx, clip)
	case ScheduleRetry:
		c.retry.Reset(a.Delay)
	case Fail:
		c.fatal = fmt.Errorf("turn: capture: %w", a.Err)
	case Release:
		c.release(ctx)
	}
}

func (c *Controller) startCapture(ctx context.Context) {
	// At most one recording is ever active.
	c.stopRecording(ctx)
	c.vad.EndSegment()

	rec, err := c.rec.Start(ctx, c.cfg.Capture)
	if err != nil {
		observe.Logger(ctx).Warn("turn: capture start failed", "err", err)
		c.publishError(err)
		c.apply(ctx, CaptureFailed{Err: err, Permanent: errors.Is(err, audio.ErrPermissionDenied)})
		return
	}
	c.recording = rec
	c.captureAt = c.now()
}

func (c *Controller) stopRecording(ctx context.Context) (audio.Clip, error) {
	if c.recording == nil {
		return audio.Clip{}, nil
	}
	clip, err := c.recording.Stop()
	c.recording = nil
	if err != nil {
		observe.Logger(ctx).Debug("turn: stop recording", "err", err)
	}
	return clip, err
}

func (c *Controller) process(ctx context.Context) {
	clip, err := c.stopRecording(ctx)
	c.vad.EndSegment()
	startedAt := c.speechAt
	c.speechAt = time.Time{}

	if err != nil {
		c.publishError(err)
		c.apply(ctx, PipelineFinished{Outcome: engine.OutcomeEmpty})
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.responder.Run(ctx, clip)
		switch {
		case err != nil:
			res.Outcome = engine.OutcomeFailed
		case res.Outcome == 0:
			res.Outcome = engine.OutcomeEmpty
		}
		finishedAt := c.now()
		c.post(ctx, pipelineDone{res: res, err: err})
		c.record(ctx, res, startedAt, finishedAt)
	}()
}

func (c *Controller) greet(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		clip, err := c.responder.Greet(ctx)
		c.post(ctx, greetingReady{clip: clip, err: err})
	}()
}

func (c *Controller) play(ctx context.Context, clip audio.Clip) {
	pb, err := c.player.Play(ctx, clip)
	if err != nil {
		observe.Logger(ctx).Warn("turn: playback start failed", "err", err)
		c.publishError(err)
		c.apply(ctx, PlaybackFinished{Err: err})
		return
	}
	c.playGen++
	c.playback = pb
	gen := c.playGen

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-pb.Done():
			c.post(ctx, playbackDone{gen: gen, err: pb.Err()})
		case <-ctx.Done():
		}
	}()
}

// release stops the recording, the playback and both timers. Safe to call
// repeatedly.
func (c *Controller) release(ctx context.Context) {
	c.silence.Stop()
	c.retry.Stop()
	c.stopRecording(ctx)
	if c.playback != nil {
		if err := c.playback.Stop(); err != nil {
			observe.Logger(ctx).Debug("turn: stop playback", "err", err)
		}
		c.playback = nil
		c.playGen++
	}
	c.reply = audio.Clip{}
	c.state.Store(int32(c.m.State()))
}

func (c *Controller) publishError(err error) {
	c.bus.Publish(Event{Kind: EventError, At: c.now(), Err: err})
}

// record appends the finished run to the journal. A failed write is logged
// and otherwise ignored.
func (c *Controller) record(ctx context.Context, res engine.Result, startedAt, finishedAt time.Time) {
	if c.journal == nil {
		return
	}
	rec := types.TurnRecord{
		SessionID:  c.cfg.SessionID,
		Language:   c.cfg.Language,
		UserText:   res.Transcript.Text,
		Outcome:    res.Outcome.String(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
	if res.Outcome == engine.OutcomeReply {
		rec.ReplyText = res.Reply
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := c.journal.Append(wctx, rec); err != nil {
		observe.Logger(ctx).Warn("turn: journal append failed", "err", err)
	}
}
