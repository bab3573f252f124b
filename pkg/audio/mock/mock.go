// Package mock provides in-memory implementations of [audio.Recorder] and
// [audio.Player] for unit tests.
//
// The mocks are safe for concurrent use. They record every call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that control return values.
//
// Typical usage:
//
//	rec := &mock.Recorder{
//	    Levels:    []float64{-60, -58, -40, -38, -36},
//	    Fallback:  -70,
//	    StopClip:  audio.Clip{Data: pcm, Format: audio.Format{SampleRate: 16000, Channels: 1}},
//	}
//	player := &mock.Player{}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder].
type Recorder struct {
	mu sync.Mutex

	// PermissionErr is returned by RequestPermission.
	PermissionErr error

	// StartErrs is consumed one entry per Start call. A nil entry, or an
	// exhausted slice, lets Start succeed.
	StartErrs []error

	// Levels is consumed one entry per Level call, across all recordings.
	Levels []float64

	// Fallback is returned by Level once Levels is exhausted.
	Fallback float64

	// LevelErr, when non-nil, is returned by every Level call.
	LevelErr error

	// StopClip is returned by every Recording.Stop.
	StopClip audio.Clip

	// StopErr is returned by every Recording.Stop.
	StopErr error

	// Chunks is consumed one entry per Recording.Drain call. Drain returns
	// nil once it is exhausted.
	Chunks [][]byte

	// CallCountPermission records how many times RequestPermission was called.
	CallCountPermission int

	// CallCountStart records how many times Start was called (including failures).
	CallCountStart int

	// CallCountStop records how many recordings were stopped.
	CallCountStop int

	// CallCountLevel records how many times Level was called.
	CallCountLevel int

	// MaxActive is the highest number of simultaneously open recordings seen.
	MaxActive int

	// StartOptions holds the options passed to each successful Start.
	StartOptions []audio.CaptureOptions

	active int
}

// RequestPermission implements [audio.Recorder].
func (r *Recorder) RequestPermission(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountPermission++
	return r.PermissionErr
}

// Start implements [audio.Recorder].
func (r *Recorder) Start(_ context.Context, opts audio.CaptureOptions) (audio.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	if len(r.StartErrs) > 0 {
		err := r.StartErrs[0]
		r.StartErrs = r.StartErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	r.StartOptions = append(r.StartOptions, opts)
	r.active++
	r.MaxActive = max(r.MaxActive, r.active)
	return &recording{owner: r}, nil
}

// Active returns the number of recordings that have been started but not stopped.
func (r *Recorder) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Starts returns CallCountStart under the lock.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStart
}

type recording struct {
	owner   *Recorder
	stopped bool
}

func (rc *recording) Level() (float64, error) {
	r := rc.owner
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountLevel++
	if r.LevelErr != nil {
		return 0, r.LevelErr
	}
	if len(r.Levels) == 0 {
		return r.Fallback, nil
	}
	lvl := r.Levels[0]
	r.Levels = r.Levels[1:]
	return lvl, nil
}

// Drain implements [audio.Drainer].
func (rc *recording) Drain() []byte {
	r := rc.owner
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc.stopped || len(r.Chunks) == 0 {
		return nil
	}
	chunk := r.Chunks[0]
	r.Chunks = r.Chunks[1:]
	return chunk
}

func (rc *recording) Stop() (audio.Clip, error) {
	r := rc.owner
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc.stopped {
		return audio.Clip{}, nil
	}
	rc.stopped = true
	r.active--
	r.CallCountStop++
	return r.StopClip, r.StopErr
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr is returned by Play.
	PlayErr error

	// Duration is how long each playback runs before completing on its own.
	// Zero completes immediately.
	Duration time.Duration

	// PlaybackErr is reported by Playback.Err after natural completion.
	PlaybackErr error

	// Played records every clip passed to Play.
	Played []audio.Clip

	// CallCountStop records how many playbacks were stopped early.
	CallCountStop int
}

// Play implements [audio.Player].
func (p *Player) Play(_ context.Context, clip audio.Clip) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return nil, p.PlayErr
	}
	p.Played = append(p.Played, clip)

	pb := &playback{owner: p, done: make(chan struct{})}
	if p.Duration <= 0 {
		pb.finish(p.PlaybackErr, false)
		return pb, nil
	}
	finalErr := p.PlaybackErr
	pb.timer = time.AfterFunc(p.Duration, func() { pb.finish(finalErr, false) })
	return pb, nil
}

// PlayedClips returns a copy of Played under the lock.
func (p *Player) PlayedClips() []audio.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Clip(nil), p.Played...)
}

// Stops returns CallCountStop under the lock.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountStop
}

type playback struct {
	owner *Player
	timer *time.Timer

	once sync.Once
	done chan struct{}
	err  error
}

func (pb *playback) finish(err error, stopped bool) {
	pb.once.Do(func() {
		pb.err = err
		if stopped {
			pb.owner.mu.Lock()
			pb.owner.CallCountStop++
			pb.owner.mu.Unlock()
		}
		close(pb.done)
	})
}

func (pb *playback) Done() <-chan struct{} { return pb.done }

func (pb *playback) Err() error {
	<-pb.done
	return pb.err
}

func (pb *playback) Stop() error {
	if pb.timer != nil {
		pb.timer.Stop()
	}
	pb.finish(nil, true)
	return nil
}

var (
	_ audio.Recorder  = (*Recorder)(nil)
	_ audio.Recording = (*recording)(nil)
	_ audio.Drainer   = (*recording)(nil)
	_ audio.Player    = (*Player)(nil)
	_ audio.Playback  = (*playback)(nil)
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device combines a mock Recorder and Player into an [audio.Device].
type Device struct {
	*Recorder
	*Player

	// CloseErr is returned by Close.
	CloseErr error

	mu     sync.Mutex
	closed int
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return d.CloseErr
}

// Closes returns how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

var _ audio.Device = (*Device)(nil)
