package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/journal"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/turn"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/eventbus"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
	"github.com/MrWong99/murmur/pkg/types"
)

// DefaultChunkInterval is how often captured microphone audio is forwarded
// to the realtime socket.
const DefaultChunkInterval = 100 * time.Millisecond

// ErrSessionClosed is returned by [RealtimeRunner.Run] when the socket went
// away without the run context being cancelled.
var ErrSessionClosed = errors.New("app: realtime session closed")

// RealtimeConfig configures a [RealtimeRunner].
type RealtimeConfig struct {
	// Greet asks the server for a greeting once, right after connecting.
	Greet bool

	// ChunkInterval is the microphone forwarding period. Default 100ms.
	ChunkInterval time.Duration

	// SessionID and Language label journal records.
	SessionID string
	Language  string
}

// RealtimeRunner carries a conversation over a realtime socket. It streams
// microphone PCM to the server, reassembles the reply audio from deltas and
// plays each reply when the server marks it done. Turn detection happens
// server side; the runner mirrors it as [turn.Event] values so observers see
// the same states as in cascade mode.
type RealtimeRunner struct {
	cfg     RealtimeConfig
	client  realtime.Client
	rec     audio.Recorder
	player  audio.Player
	journal journal.Journal
	metrics *observe.Metrics
	bus     *eventbus.Bus[turn.Event]

	wg sync.WaitGroup

	mu    sync.Mutex
	state turn.State
}

// RealtimeOption configures optional RealtimeRunner behaviour.
type RealtimeOption func(*RealtimeRunner)

// WithRealtimeJournal records one entry per assistant reply.
func WithRealtimeJournal(j journal.Journal) RealtimeOption {
	return func(r *RealtimeRunner) { r.journal = j }
}

// WithRealtimeMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithRealtimeMetrics(m *observe.Metrics) RealtimeOption {
	return func(r *RealtimeRunner) { r.metrics = m }
}

// NewRealtimeRunner creates a runner. It takes ownership of neither client
// nor the audio devices.
func NewRealtimeRunner(cfg RealtimeConfig, client realtime.Client, rec audio.Recorder, player audio.Player, opts ...RealtimeOption) *RealtimeRunner {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	r := &RealtimeRunner{
		cfg:    cfg,
		client: client,
		rec:    rec,
		player: player,
		bus:    eventbus.New[turn.Event](eventbus.DefaultBuffer),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Subscribe returns a subscription to the runner's mirrored turn events.
func (r *RealtimeRunner) Subscribe() *eventbus.Subscription[turn.Event] {
	return r.bus.Subscribe()
}

// State returns the mirrored turn state.
func (r *RealtimeRunner) State() turn.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connected reports whether the socket is open.
func (r *RealtimeRunner) Connected() bool { return r.client.Connected() }

// captureFormat is what the realtime socket expects in both directions.
var captureFormat = audio.Format{SampleRate: realtime.SampleRate, Channels: 1}

// Run connects, streams until ctx is cancelled and disconnects. It returns
// nil on cancellation, the connect error when the socket cannot be opened, a
// wrapped [audio.ErrPermissionDenied] when capture is refused, and
// [ErrSessionClosed] when the server drops the connection.
func (r *RealtimeRunner) Run(ctx context.Context) error {
	defer r.bus.Close()
	defer r.wg.Wait()
	defer r.setState(turn.StateIdle)
	log := observe.Logger(ctx)

	if err := r.rec.RequestPermission(ctx); err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("app: realtime: %w", err)
		}
		log.Warn("realtime: permission request failed", "err", err)
	}

	sub := r.client.Subscribe()
	defer sub.Close()

	if err := r.client.Connect(ctx); err != nil {
		return fmt.Errorf("app: realtime connect: %w", err)
	}
	r.metrics.RealtimeConnections.Add(ctx, 1)
	defer func() {
		r.metrics.RealtimeConnections.Add(context.WithoutCancel(ctx), -1)
		if err := r.client.Disconnect(); err != nil {
			log.Warn("realtime: disconnect failed", "err", err)
		}
	}()

	rec, err := r.rec.Start(ctx, audio.CaptureOptions{Format: captureFormat, Metering: true})
	if err != nil {
		return fmt.Errorf("app: realtime capture: %w", err)
	}
	defer func() {
		if _, err := rec.Stop(); err != nil {
			log.Warn("realtime: stop capture failed", "err", err)
		}
	}()
	r.setState(turn.StateArmedListening)

	if r.cfg.Greet {
		if err := r.client.TriggerGreeting(ctx); err != nil {
			log.Warn("realtime: greeting request failed", "err", err)
		}
	}

	var (
		reply      []byte
		lastHeard  string
		startedAt  time.Time
		pb         audio.Playback
		playDone   <-chan struct{}
		ticker     = time.NewTicker(r.cfg.ChunkInterval)
		stopPlayer = func() {
			if pb != nil {
				_ = pb.Stop()
				pb, playDone = nil, nil
			}
		}
	)
	defer ticker.Stop()
	defer stopPlayer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			rec = r.forward(ctx, rec)

		case <-playDone:
			pb, playDone = nil, nil
			r.setState(turn.StateArmedListening)

		case evt, ok := <-sub.C():
			if !ok {
				return ErrSessionClosed
			}
			r.metrics.RecordRealtimeEvent(ctx, evt.Type.String())

			switch evt.Type {
			case realtime.EventSpeechStarted:
				// The user talks over the reply.
				stopPlayer()
				reply = reply[:0]
				startedAt = time.Now()
				r.setState(turn.StateSpeechConfirmed)

			case realtime.EventSpeechStopped:
				r.setState(turn.StateProcessing)

			case realtime.EventTranscript:
				lastHeard = evt.Transcript
				r.bus.Publish(turn.Event{
					Kind:   turn.EventTranscript,
					At:     time.Now(),
					Result: engine.Result{Transcript: r.heard(evt.Transcript)},
				})

			case realtime.EventAudioDelta:
				reply = append(reply, evt.Audio...)

			case realtime.EventAudioDone:
				if len(reply) == 0 {
					continue
				}
				clip := audio.Clip{Data: reply, Format: captureFormat}
				reply = nil
				stopPlayer()
				next, err := r.player.Play(ctx, clip)
				if err != nil {
					log.Warn("realtime: playback failed", "err", err)
					r.publishError(err)
					r.setState(turn.StateArmedListening)
				} else {
					pb, playDone = next, next.Done()
					r.setState(turn.StatePlaying)
				}
				r.metrics.RecordTurn(ctx, engine.OutcomeReply.String())
				heard, began := lastHeard, startedAt
				r.bus.Publish(turn.Event{
					Kind:   turn.EventTurn,
					At:     time.Now(),
					Result: engine.Result{Outcome: engine.OutcomeReply, Transcript: r.heard(heard), Audio: clip},
				})
				r.wg.Go(func() { r.record(ctx, heard, began) })
				lastHeard, startedAt = "", time.Time{}

			case realtime.EventError:
				r.publishError(evt.Err)

			case realtime.EventClosed:
				if ctx.Err() != nil {
					return nil
				}
				if evt.Err != nil {
					return fmt.Errorf("%w: %w", ErrSessionClosed, evt.Err)
				}
				return ErrSessionClosed
			}
		}
	}
}

// forward sends the PCM captured since the last tick. Recordings that cannot
// be drained are cycled instead, which loses the few samples between Stop
// and Start.
func (r *RealtimeRunner) forward(ctx context.Context, rec audio.Recording) audio.Recording {
	var pcm []byte
	if d, ok := rec.(audio.Drainer); ok {
		pcm = d.Drain()
	} else {
		clip, err := rec.Stop()
		if err != nil {
			slog.Warn("realtime: stop capture failed", "err", err)
		}
		pcm = clip.Data
		next, err := r.rec.Start(ctx, audio.CaptureOptions{Format: captureFormat, Metering: true})
		if err != nil {
			slog.Warn("realtime: restart capture failed", "err", err)
			r.publishError(err)
		} else {
			rec = next
		}
	}
	if len(pcm) == 0 {
		return rec
	}
	if err := r.client.SendAudio(ctx, pcm); err != nil {
		slog.Warn("realtime: send audio failed", "err", err)
	}
	return rec
}

func (r *RealtimeRunner) setState(to turn.State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from == to {
		return
	}
	r.metrics.RecordTransition(context.Background(), from.String(), to.String())
	r.bus.Publish(turn.Event{Kind: turn.EventState, At: time.Now(), From: from, To: to})
}

func (r *RealtimeRunner) heard(text string) types.Transcript {
	return types.Transcript{Text: text, Language: r.cfg.Language}
}

func (r *RealtimeRunner) publishError(err error) {
	r.bus.Publish(turn.Event{Kind: turn.EventError, At: time.Now(), Err: err})
}

func (r *RealtimeRunner) record(ctx context.Context, heard string, startedAt time.Time) {
	if r.journal == nil {
		return
	}
	now := time.Now()
	if startedAt.IsZero() {
		startedAt = now
	}
	rec := types.TurnRecord{
		SessionID:  r.cfg.SessionID,
		Language:   r.cfg.Language,
		UserText:   heard,
		Outcome:    engine.OutcomeReply.String(),
		StartedAt:  startedAt,
		FinishedAt: now,
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.journal.Append(jctx, rec); err != nil {
		slog.Warn("realtime: journal append failed", "err", err)
	}
}
