//go:build portaudio

// Package portaudio implements [audio.Device] on top of PortAudio, capturing
// from the default input device and playing on the default output device.
//
// Building it requires the PortAudio C library and the "portaudio" build tag.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/murmur/pkg/audio"
)

const (
	// bufferMs is the capture/playback buffer length.
	bufferMs = 50

	defaultSampleRate = 16000
)

// Device is a PortAudio-backed [audio.Device].
type Device struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio. Call Close to terminate it.
func New() (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{}, nil
}

// Close terminates PortAudio. Recordings and playbacks must be stopped first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return pa.Terminate()
}

// RequestPermission implements [audio.Recorder]. Desktop PortAudio has no
// permission prompt; a missing default input device is treated as a
// permanent denial.
func (d *Device) RequestPermission(_ context.Context) error {
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	}
	if dev == nil || dev.MaxInputChannels < 1 {
		return fmt.Errorf("%w: default input device has no input channels", audio.ErrPermissionDenied)
	}
	return nil
}

// Start implements [audio.Recorder].
func (d *Device) Start(ctx context.Context, opts audio.CaptureOptions) (audio.Recording, error) {
	f := opts.Format
	if f.SampleRate <= 0 {
		f.SampleRate = defaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	frames := f.SampleRate * bufferMs / 1000
	buf := make([]int16, frames*f.Channels)

	stream, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), frames, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	r := &recording{
		stream: stream,
		format: f,
		buf:    buf,
		done:   make(chan struct{}),
	}
	r.level.Store(math.Float64bits(audio.SilenceDBFS))
	r.wg.Add(1)
	go r.readLoop()
	return r, nil
}

// recording owns one input stream. readLoop is the only goroutine touching
// buf; pcm is guarded by mu.
type recording struct {
	stream *pa.Stream
	format audio.Format
	buf    []int16

	level atomic.Uint64

	mu  sync.Mutex
	pcm []byte
	err error

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (r *recording) readLoop() {
	defer r.wg.Done()
	chunk := make([]byte, len(r.buf)*2)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		if err := r.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
				continue
			}
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
			return
		}
		for i, s := range r.buf {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(s))
		}
		r.level.Store(math.Float64bits(audio.LevelDBFS(chunk)))
		r.mu.Lock()
		r.pcm = append(r.pcm, chunk...)
		r.mu.Unlock()
	}
}

func (r *recording) Level() (float64, error) {
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return audio.SilenceDBFS, fmt.Errorf("portaudio: read input: %w", err)
	}
	return math.Float64frombits(r.level.Load()), nil
}

// Drain implements [audio.Drainer].
func (r *recording) Drain() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	pcm := r.pcm
	r.pcm = nil
	return pcm
}

func (r *recording) Stop() (audio.Clip, error) {
	var (
		clip    audio.Clip
		stopErr error
	)
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if err := r.stream.Stop(); err != nil {
			stopErr = fmt.Errorf("portaudio: stop input stream: %w", err)
		}
		if err := r.stream.Close(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("portaudio: close input stream: %w", err)
		}
		r.mu.Lock()
		clip = audio.Clip{Data: r.pcm, Format: r.format}
		r.pcm = nil
		r.mu.Unlock()
	})
	return clip, stopErr
}

// Play implements [audio.Player].
func (d *Device) Play(ctx context.Context, clip audio.Clip) (audio.Playback, error) {
	f := clip.Format
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: clip has no format")
	}
	frames := f.SampleRate * bufferMs / 1000
	buf := make([]int16, frames*f.Channels)

	stream, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), frames, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}

	p := &playback{
		stream: stream,
		buf:    buf,
		pcm:    clip.Data,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.writeLoop(ctx)
	return p, nil
}

type playback struct {
	stream *pa.Stream
	buf    []int16
	pcm    []byte

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (p *playback) writeLoop(ctx context.Context) {
	defer close(p.done)
	defer func() {
		if err := p.stream.Stop(); err != nil && p.err == nil {
			p.err = fmt.Errorf("portaudio: stop output stream: %w", err)
		}
		p.stream.Close()
	}()

	step := len(p.buf) * 2
	for off := 0; off < len(p.pcm); off += step {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		end := min(off+step, len(p.pcm))
		clear(p.buf)
		for i := 0; off+i*2+1 < end; i++ {
			p.buf[i] = int16(binary.LittleEndian.Uint16(p.pcm[off+i*2:]))
		}
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, pa.OutputUnderflowed) {
				continue
			}
			p.err = fmt.Errorf("portaudio: write output: %w", err)
			return
		}
	}
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	<-p.done
	return p.err
}

func (p *playback) Stop() error {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
	return nil
}

var (
	_ audio.Device    = (*Device)(nil)
	_ audio.Recording = (*recording)(nil)
	_ audio.Playback  = (*playback)(nil)
)
