package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// String renders f as e.g. "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter converts clips to a target format, resampling first and then
// adjusting the channel layout. The first conversion is logged at debug
// level. The zero value leaves clips untouched.
type Converter struct {
	Target Format

	logOnce sync.Once
}

// Convert returns clip in c.Target format. A trailing partial sample is
// dropped first.
func (c *Converter) Convert(clip Clip) Clip {
	if c.Target.SampleRate <= 0 || c.Target.Channels <= 0 {
		return clip
	}
	pcm := clip.Data[:len(clip.Data)&^1]
	if clip.Format == c.Target {
		return Clip{Data: pcm, Format: clip.Format}
	}
	c.logOnce.Do(func() {
		slog.Debug("audio: converting clip format", "from", clip.Format, "to", c.Target)
	})

	f := clip.Format
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.SampleRate != c.Target.SampleRate {
		pcm = Resample16(pcm, f.Channels, f.SampleRate, c.Target.SampleRate)
		f.SampleRate = c.Target.SampleRate
	}
	if f.Channels != c.Target.Channels {
		pcm = Upmix16(Downmix16(pcm, f.Channels), c.Target.Channels)
		f.Channels = c.Target.Channels
	}
	return Clip{Data: pcm, Format: f}
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// Downmix16 averages each interleaved frame of PCM16 into one mono sample.
// Mono input is returned as is.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sample(pcm, i*channels+ch))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// Upmix16 copies each mono PCM16 sample into all of channels.
func Upmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, n*2*channels)
	for i := range n {
		s := sample(pcm, i)
		for ch := range channels {
			putSample(out, i*channels+ch, s)
		}
	}
	return out
}

// Resample16 converts interleaved PCM16 from srcRate to dstRate by linear
// interpolation per channel. Invalid rates and equal rates return pcm.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			s0 := float64(sample(pcm, idx*channels+ch))
			s1 := float64(sample(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0+(s1-s0)*frac))
		}
	}
	return out
}
