package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV reports data without a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// DecodeWAV parses 16-bit PCM WAV data into a mono clip. Stereo input is
// downmixed by averaging channels.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	// Walk chunks; fmt must precede data.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("audio: unsupported WAV format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if sampleRate == 0 || pcm == nil {
		return nil, fmt.Errorf("audio: missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}

	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		left := int16(binary.LittleEndian.Uint16(pcm[base : base+2]))
		if channels == 1 {
			samples[i] = left
			continue
		}
		right := int16(binary.LittleEndian.Uint16(pcm[base+2 : base+4]))
		samples[i] = int16((int32(left) + int32(right)) / 2)
	}
	return &Clip{SampleRate: sampleRate, Samples: samples}, nil
}

// EncodeWAV serializes the clip as a 16-bit PCM mono WAV file.
func EncodeWAV(c *Clip) []byte {
	dataSize := len(c.Samples) * 2
	out := make([]byte, 44+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(c.SampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[44+i*2:46+i*2], uint16(s))
	}
	return out
}
