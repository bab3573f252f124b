package audio

import (
	"encoding/binary"
	"math"
)

// SilenceDBFS is the level reported for digital silence.
const SilenceDBFS = -160.0

// LevelDBFS returns the RMS level of little-endian PCM16 samples in dBFS,
// clamped to [-160, 0]. Blocks whose normalised RMS is below 0.001 report
// [SilenceDBFS].
func LevelDBFS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return SilenceDBFS
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms < 0.001 {
		return SilenceDBFS
	}
	db := 20 * math.Log10(rms)
	return max(SilenceDBFS, min(0, db))
}
