package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies websocket payload variants.
type EventName string

const (
	EventAudioChunk        EventName = "audio-chunk"
	EventCompleteRecording EventName = "complete-recording"
	EventPauseRecording    EventName = "pause-recording"
	EventResumeRecording   EventName = "resume-recording"

	EventAudioChunkReceived  EventName = "audio-chunk-received"
	EventTranscriptionUpdate EventName = "transcription-update"
	EventRecordingStatus     EventName = "recording-status"
	EventRecordingCompleted  EventName = "recording-completed"
	EventRecordingError      EventName = "recording-error"
)

var (
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// AudioChunk carries one fragment of audio. Chunk is base64 in JSON frames.
type AudioChunk struct {
	RecordingID string `json:"recordingId"`
	Chunk       []byte `json:"chunk"`
	IsFinal     bool   `json:"isFinal"`
	Timestamp   string `json:"timestamp,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type CompleteRecording struct {
	RecordingID string `json:"recordingId"`
}

type PauseRecording struct {
	RecordingID string `json:"recordingId"`
}

type ResumeRecording struct {
	RecordingID string `json:"recordingId"`
}

// ServerEvent is implemented by every server -> client payload.
type ServerEvent interface {
	EventName() EventName
	Recording() string
}

type AudioChunkReceived struct {
	RecordingID string `json:"recordingId"`
	Success     bool   `json:"success"`
}

type TranscriptionUpdate struct {
	RecordingID string `json:"recordingId"`
	Text        string `json:"text"`
	Timestamp   string `json:"timestamp"`
	IsFinal     bool   `json:"isFinal"`
}

type RecordingStatus struct {
	RecordingID string `json:"recordingId"`
	Status      string `json:"status"`
}

type RecordingCompleted struct {
	RecordingID string `json:"recordingId"`
	Summary     string `json:"summary"`
	Transcript  string `json:"transcript"`
	Duration    int    `json:"duration"`
}

type RecordingError struct {
	RecordingID string `json:"recordingId"`
	Error       string `json:"error"`
}

func (AudioChunkReceived) EventName() EventName  { return EventAudioChunkReceived }
func (TranscriptionUpdate) EventName() EventName { return EventTranscriptionUpdate }
func (RecordingStatus) EventName() EventName     { return EventRecordingStatus }
func (RecordingCompleted) EventName() EventName  { return EventRecordingCompleted }
func (RecordingError) EventName() EventName      { return EventRecordingError }

func (e AudioChunkReceived) Recording() string  { return e.RecordingID }
func (e TranscriptionUpdate) Recording() string { return e.RecordingID }
func (e RecordingStatus) Recording() string     { return e.RecordingID }
func (e RecordingCompleted) Recording() string  { return e.RecordingID }
func (e RecordingError) Recording() string      { return e.RecordingID }

// Frame is the outbound envelope written to the socket.
type Frame struct {
	Event EventName   `json:"event"`
	Data  ServerEvent `json:"data"`
}

func NewFrame(ev ServerEvent) Frame {
	return Frame{Event: ev.EventName(), Data: ev}
}

// ParseClientMessage decodes a JSON text frame into one of AudioChunk,
// CompleteRecording, PauseRecording or ResumeRecording.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrInvalidPayload, env.Event)
	}

	switch env.Event {
	case EventAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if strings.TrimSpace(msg.RecordingID) == "" {
			return nil, fmt.Errorf("%w: audio-chunk missing recordingId", ErrInvalidPayload)
		}
		return msg, nil
	case EventCompleteRecording:
		var msg CompleteRecording
		id, err := decodeRecordingID(env.Data, &msg, &msg.RecordingID)
		if err != nil {
			return nil, err
		}
		msg.RecordingID = id
		return msg, nil
	case EventPauseRecording:
		var msg PauseRecording
		id, err := decodeRecordingID(env.Data, &msg, &msg.RecordingID)
		if err != nil {
			return nil, err
		}
		msg.RecordingID = id
		return msg, nil
	case EventResumeRecording:
		var msg ResumeRecording
		id, err := decodeRecordingID(env.Data, &msg, &msg.RecordingID)
		if err != nil {
			return nil, err
		}
		msg.RecordingID = id
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// BinaryChunk wraps a raw binary frame for the recording bound to the socket.
func BinaryChunk(recordingID string, payload []byte, mimeType string) (AudioChunk, error) {
	if strings.TrimSpace(recordingID) == "" {
		return AudioChunk{}, fmt.Errorf("%w: binary frame without bound recordingId", ErrInvalidPayload)
	}
	chunk := make([]byte, len(payload))
	copy(chunk, payload)
	return AudioChunk{RecordingID: recordingID, Chunk: chunk, MimeType: mimeType}, nil
}

func decodeRecordingID(data json.RawMessage, into any, id *string) (string, error) {
	if err := json.Unmarshal(data, into); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return "", fmt.Errorf("%w: missing recordingId", ErrInvalidPayload)
	}
	return v, nil
}

// RecordingIDOf extracts a best-effort recordingId from a malformed frame so
// error events can still be addressed.
func RecordingIDOf(raw []byte) string {
	var env struct {
		Data struct {
			RecordingID string `json:"recordingId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Data.RecordingID
}
