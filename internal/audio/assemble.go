package audio

import (
	"errors"
	"mime"
	"strings"
)

var ErrNoAudio = errors.New("no audio data")

// Blob is one logical audio object ready for transcription.
type Blob struct {
	Data     []byte
	MimeType string
}

// Filename returns a name whose extension lets providers sniff the container.
func (b Blob) Filename() string {
	return "recording" + Extension(b.MimeType)
}

// Assemble concatenates chunks in order. Raw PCM is wrapped as WAV; encoded
// containers such as webm or ogg are passed through since the first chunk
// carries their header.
func Assemble(chunks [][]byte, mimeType string, sampleRate int) (Blob, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return Blob{}, ErrNoAudio
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c...)
	}

	mt := BaseType(mimeType)
	if mt == "" {
		mt = "audio/webm"
	}
	if IsRawPCM(mt) {
		if len(data)%2 == 1 {
			data = data[:len(data)-1]
		}
		wav, err := EncodeWAVPCM16LE(data, sampleRate)
		if err != nil {
			return Blob{}, err
		}
		return Blob{Data: wav, MimeType: "audio/wav"}, nil
	}
	return Blob{Data: data, MimeType: mt}, nil
}

// BaseType strips parameters such as codecs from a MIME type.
func BaseType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt, _, _ = strings.Cut(mimeType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func IsRawPCM(mimeType string) bool {
	switch BaseType(mimeType) {
	case "audio/pcm", "audio/l16", "audio/raw":
		return true
	default:
		return false
	}
}

func Extension(mimeType string) string {
	switch BaseType(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	default:
		return ".webm"
	}
}
