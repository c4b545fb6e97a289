package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/scribe/internal/audio"
	"github.com/ent0n29/scribe/internal/policy"
	"github.com/ent0n29/scribe/internal/protocol"
)

type replayOptions struct {
	baseURL  string
	userID   string
	title    string
	wavPath  string
	chunkMS  int
	realtime float64
	binary   bool
	pauseAt  int
	timeout  time.Duration
}

type replayResult struct {
	RecordingID   string
	Chunks        int
	Bytes         int
	Acked         int
	Rejected      int
	SendDuration  time.Duration
	CompleteAfter time.Duration
	Transcript    string
	Summary       string
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Stream a WAV file (or a synthetic tone) through a running server and time the pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := replayOptionsFrom(cmd)
		if err != nil {
			return err
		}
		pcm, rate, err := loadReplayAudio(opts.wavPath)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()

		out := cmd.OutOrStdout()
		res, err := replay(ctx, opts, pcm, rate, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "replay: recording=%s chunks=%d bytes=%d acked=%d rejected=%d send=%s completed_after=%s\n",
			res.RecordingID, res.Chunks, res.Bytes, res.Acked, res.Rejected,
			res.SendDuration.Round(time.Millisecond), res.CompleteAfter.Round(time.Millisecond))
		fmt.Fprintf(out, "replay: summary=%q\n", policy.Preview(res.Summary, 120))
		return nil
	},
}

func init() {
	f := replayCmd.Flags()
	f.String("base-url", "http://127.0.0.1:8080", "scribe base URL")
	f.String("user-id", "replay", "user id sent as X-User-ID")
	f.String("title", "", "recording title (default: replay <timestamp>)")
	f.String("wav", "", "PCM16 WAV file to stream; a 2s tone is used when empty")
	f.Int("chunk-ms", 250, "audio per chunk in milliseconds")
	f.Float64("realtime", 4.0, "pacing multiplier (1.0 = realtime)")
	f.Bool("binary", false, "send binary frames instead of base64 JSON")
	f.Int("pause-at", -1, "send pause/resume after this chunk index (-1 disables)")
	f.Duration("timeout", 2*time.Minute, "overall replay timeout")
}

func replayOptionsFrom(cmd *cobra.Command) (replayOptions, error) {
	f := cmd.Flags()
	var o replayOptions
	o.baseURL, _ = f.GetString("base-url")
	o.userID, _ = f.GetString("user-id")
	o.title, _ = f.GetString("title")
	o.wavPath, _ = f.GetString("wav")
	o.chunkMS, _ = f.GetInt("chunk-ms")
	o.realtime, _ = f.GetFloat64("realtime")
	o.binary, _ = f.GetBool("binary")
	o.pauseAt, _ = f.GetInt("pause-at")
	o.timeout, _ = f.GetDuration("timeout")

	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	switch {
	case o.baseURL == "":
		return o, errors.New("base-url is required")
	case o.chunkMS < 10 || o.chunkMS > 5000:
		return o, errors.New("chunk-ms must be in [10,5000]")
	case o.realtime <= 0:
		return o, errors.New("realtime must be > 0")
	case o.timeout <= 0:
		return o, errors.New("timeout must be > 0")
	}
	if strings.TrimSpace(o.title) == "" {
		o.title = "replay " + time.Now().Format(time.DateTime)
	}
	return o, nil
}

func loadReplayAudio(path string) ([]byte, int, error) {
	if strings.TrimSpace(path) == "" {
		return tone(440, 2*time.Second, 16000), 16000, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	pcm, rate, err := audio.DecodeWAVPCM16(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return pcm, rate, nil
}

// tone renders a mono PCM16LE sine wave at half amplitude.
func tone(freq float64, d time.Duration, sampleRate int) []byte {
	n := int(d.Seconds() * float64(sampleRate))
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return out
}

// splitPCM cuts pcm into chunks of chunkMS, keeping every chunk sample aligned.
func splitPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	size := sampleRate * 2 * chunkMS / 1000
	size -= size % 2
	if size < 2 {
		size = 2
	}
	var chunks [][]byte
	for off := 0; off+1 < len(pcm); off += size {
		end := min(off+size, len(pcm))
		end -= (end - off) % 2
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}

func replay(ctx context.Context, o replayOptions, pcm []byte, sampleRate int, progress io.Writer) (replayResult, error) {
	chunks := splitPCM(pcm, sampleRate, o.chunkMS)
	if len(chunks) == 0 {
		return replayResult{}, errors.New("no audio to replay")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	id, err := createRecording(ctx, client, o)
	if err != nil {
		return replayResult{}, fmt.Errorf("create recording: %w", err)
	}
	res := replayResult{RecordingID: id}

	wsURL, err := replayWSURL(o.baseURL, id, o.userID)
	if err != nil {
		return res, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return res, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	// Sized so unread acks never stall the reader while chunks are sent.
	frames := make(chan protocol.Envelope, len(chunks)+16)
	readErr := make(chan error, 1)
	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintf(progress, "replay: recording=%s chunks=%d sample_rate=%d binary=%t\n", id, len(chunks), sampleRate, o.binary)
	start := time.Now()
	for i, chunk := range chunks {
		if err := sendChunk(conn, o.binary, id, chunk); err != nil {
			return res, fmt.Errorf("chunk %d: %w", i, err)
		}
		res.Chunks++
		res.Bytes += len(chunk)
		if i == o.pauseAt {
			if err := sendControl(conn, protocol.EventPauseRecording, id); err != nil {
				return res, err
			}
			if err := sendControl(conn, protocol.EventResumeRecording, id); err != nil {
				return res, err
			}
		}
		pace := time.Duration(float64(len(chunk)) / float64(sampleRate*2) * float64(time.Second) / o.realtime)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(pace):
		}
	}
	res.SendDuration = time.Since(start)

	completeAt := time.Now()
	if err := sendControl(conn, protocol.EventCompleteRecording, id); err != nil {
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			return res, fmt.Errorf("waiting for completion: %w", ctx.Err())
		case err := <-readErr:
			return res, fmt.Errorf("ws read: %w", err)
		case env := <-frames:
			switch env.Event {
			case protocol.EventAudioChunkReceived:
				var ack protocol.AudioChunkReceived
				if json.Unmarshal(env.Data, &ack) == nil && ack.Success {
					res.Acked++
				} else {
					res.Rejected++
				}
			case protocol.EventRecordingStatus, protocol.EventTranscriptionUpdate:
				fmt.Fprintf(progress, "replay: %s after %s\n", env.Event, time.Since(completeAt).Round(time.Millisecond))
			case protocol.EventRecordingCompleted:
				var done protocol.RecordingCompleted
				if err := json.Unmarshal(env.Data, &done); err != nil {
					return res, fmt.Errorf("decode completion: %w", err)
				}
				res.CompleteAfter = time.Since(completeAt)
				res.Transcript = done.Transcript
				res.Summary = done.Summary
				return res, nil
			case protocol.EventRecordingError:
				var e protocol.RecordingError
				_ = json.Unmarshal(env.Data, &e)
				return res, fmt.Errorf("server reported: %s", e.Error)
			}
		}
	}
}

func createRecording(ctx context.Context, client *http.Client, o replayOptions) (string, error) {
	body, err := json.Marshal(map[string]string{"title": o.title})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/recordings", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", o.userID)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("missing id in response")
	}
	return out.ID, nil
}

func replayWSURL(baseURL, recordingID, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("recordingId", recordingID)
	q.Set("mimeType", "audio/pcm")
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sendChunk(conn *websocket.Conn, asBinary bool, id string, chunk []byte) error {
	if asBinary {
		return conn.WriteMessage(websocket.BinaryMessage, chunk)
	}
	return writeEvent(conn, protocol.EventAudioChunk, protocol.AudioChunk{
		RecordingID: id,
		Chunk:       chunk,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		MimeType:    "audio/pcm",
	})
}

func sendControl(conn *websocket.Conn, event protocol.EventName, id string) error {
	return writeEvent(conn, event, map[string]string{"recordingId": id})
}

func writeEvent(conn *websocket.Conn, event protocol.EventName, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteJSON(protocol.Envelope{Event: event, Data: data})
}
