package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/murmur/pkg/audio"
)

// modelFormat is the only input format whisper.cpp models accept.
var modelFormat = audio.Format{SampleRate: 16000, Channels: 1}

// clipSamples converts clip to 16 kHz mono and returns its samples as float32
// normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func clipSamples(clip audio.Clip) []float32 {
	conv := audio.Converter{Target: modelFormat}
	pcm := conv.Convert(clip).Data
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
