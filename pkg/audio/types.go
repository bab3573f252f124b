package audio

import "time"

// Format describes the sample rate and channel count of 16-bit PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM16 data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Clip is a complete block of little-endian 16-bit PCM audio: a finished
// recording or a synthesised reply.
type Clip struct {
	// Data holds the interleaved PCM samples.
	Data []byte

	// Format describes Data.
	Format Format
}

// Empty reports whether c carries no samples.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Duration returns the playback length of c.
func (c Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(c.Data)) * time.Second / time.Duration(bps)
}
