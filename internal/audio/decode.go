package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrUnsupportedWAV = errors.New("unsupported wav")

type wavFormat struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    int
	bitsPerSample uint16
}

// DecodeWAVPCM16 extracts mono PCM16LE samples and the sample rate from a
// RIFF/WAVE file. Multi-channel audio is downmixed by averaging.
func DecodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedWAV)
	}

	var (
		format  *wavFormat
		samples []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("%w: chunk %q overruns file", ErrUnsupportedWAV, id)
		}
		body := data[off : off+size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			format = &wavFormat{
				audioFormat:   binary.LittleEndian.Uint16(body[0:2]),
				channels:      binary.LittleEndian.Uint16(body[2:4]),
				sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				bitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
			}
		case "data":
			samples = body
		}
		// RIFF chunks are word aligned.
		off += size + size%2
	}

	switch {
	case format == nil:
		return nil, 0, fmt.Errorf("%w: fmt chunk missing", ErrUnsupportedWAV)
	case len(samples) == 0:
		return nil, 0, fmt.Errorf("%w: data chunk missing", ErrUnsupportedWAV)
	case format.audioFormat != 1:
		return nil, 0, fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupportedWAV, format.audioFormat)
	case format.bitsPerSample != 16:
		return nil, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedWAV, format.bitsPerSample)
	case format.channels == 0:
		return nil, 0, fmt.Errorf("%w: zero channels", ErrUnsupportedWAV)
	}
	rate := format.sampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	return downmix(samples, int(format.channels)), rate, nil
}

func downmix(pcm []byte, channels int) []byte {
	if channels == 1 {
		out := make([]byte, len(pcm)-len(pcm)%2)
		copy(out, pcm)
		return out
	}
	frame := channels * 2
	frames := len(pcm) / frame
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(pcm[at : at+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}
