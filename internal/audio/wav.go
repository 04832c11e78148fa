// Package audio provides WAV container helpers and the PCM segmenter that
// cuts a batch's synthesized audio into per-line clips.
//
// All audio handled here is mono 16-bit signed little-endian PCM at 48 kHz.
package audio

import (
	"bytes"
	"encoding/binary"
)

// Fixed audio format.
const (
	SampleRate     = 48000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	BytesPerSecond = SampleRate * Channels * BytesPerSample
	frameSize      = Channels * BytesPerSample
)

// WAV container constants.
const (
	// HeaderSize is the size of a canonical WAV header in bytes.
	HeaderSize = 44
	// FormatPCM is the audio format code for uncompressed PCM.
	FormatPCM = 1
)

var (
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	dataMagic = []byte("data")
)

// WrapPCM returns a self-contained WAV file holding pcm.
func WrapPCM(pcm []byte) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], riffMagic)
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], waveMagic)

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], FormatPCM)
	le.PutUint16(out[22:24], Channels)
	le.PutUint32(out[24:28], SampleRate)
	le.PutUint32(out[28:32], BytesPerSecond)
	le.PutUint16(out[32:34], frameSize)
	le.PutUint16(out[34:36], BitsPerSample)

	copy(out[36:40], dataMagic)
	le.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[HeaderSize:], pcm)
	return out
}

// HasRIFFHeader reports whether data starts with the RIFF magic.
func HasRIFFHeader(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], riffMagic)
}

// PCM returns the raw sample payload of data. Input without a RIFF header is
// returned unchanged. For WAV input the chunk list is walked to the "data"
// chunk; if the chunks cannot be followed the canonical 44-byte header is
// assumed.
func PCM(data []byte) []byte {
	if !HasRIFFHeader(data) {
		return data
	}
	if len(data) <= HeaderSize {
		return nil
	}

	off := 12
	for off+8 <= len(data) {
		id := data[off : off+4]
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if bytes.Equal(id, dataMagic) {
			end := body + size
			if size == 0 || end > len(data) {
				end = len(data)
			}
			return data[body:end]
		}
		off = body + size + size%2
	}
	return data[HeaderSize:]
}

// Duration returns the playback length of a PCM payload in seconds.
func Duration(pcmLen int) float64 {
	return float64(pcmLen) / BytesPerSecond
}
