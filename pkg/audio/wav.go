package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// EncodeWAV wraps the PCM data of clip in a canonical RIFF/WAV container,
// ready for multipart upload to transcription backends.
func EncodeWAV(clip Clip) []byte {
	ch := max(clip.Format.Channels, 1)
	rate := clip.Format.SampleRate
	size := len(clip.Data)

	buf := make([]byte, wavHeaderSize+size)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(ch))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(rate*ch*2))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(ch*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[wavHeaderSize:], clip.Data)
	return buf
}

// DecodeWAV parses a canonical 16-bit PCM WAV file produced by [EncodeWAV] or
// by a synthesis backend. Only the fmt and data chunks are interpreted; other
// chunks are skipped.
func DecodeWAV(b []byte) (Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Clip{}, errors.New("audio: not a RIFF/WAVE stream")
	}
	var (
		clip   Clip
		gotFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		n := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+n > len(b) {
			n = len(b) - body
		}
		switch id {
		case "fmt ":
			if n < 16 {
				return Clip{}, errors.New("audio: short fmt chunk")
			}
			if f := binary.LittleEndian.Uint16(b[body:]); f != 1 {
				return Clip{}, fmt.Errorf("audio: unsupported wav encoding %d", f)
			}
			if bits := binary.LittleEndian.Uint16(b[body+14:]); bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			clip.Format.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			clip.Format.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return Clip{}, errors.New("audio: data chunk before fmt chunk")
			}
			clip.Data = append([]byte(nil), b[body:body+n]...)
			return clip, nil
		}
		off = body + n + n%2
	}
	return Clip{}, errors.New("audio: wav stream has no data chunk")
}
