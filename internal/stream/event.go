// Package stream carries the typed events of a streaming pipeline run.
//
// Events are produced by exactly one run and consumed through a bounded,
// order-preserving queue that drops its oldest entry instead of blocking the
// producer. On the wire each event is one JSON line: {"type","timestamp","data"}.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	KindProgress       Kind = "progress"
	KindProcessingStep Kind = "processing_step"
	KindPhaseComplete  Kind = "phase_complete"
	KindFinalResult    Kind = "final_result"
	KindError          Kind = "error"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProgress, KindProcessingStep, KindPhaseComplete, KindFinalResult, KindError:
		return true
	}
	return false
}

// Event is one stream event. Data holds JSON-native values only.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Data      map[string]any
}

type wireEvent struct {
	Type      Kind           `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an event stamped now. data is normalized through JSON so the
// event round-trips through the wire format unchanged.
func NewEvent(kind Kind, data any) (Event, error) {
	m, err := normalize(data)
	if err != nil {
		return Event{}, fmt.Errorf("stream: %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Timestamp: time.Now().UTC().Round(0), Data: m}, nil
}

func normalize(data any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// StageCancelled marks the progress event that ends a cancelled run on
// transports that outlive the run, such as NATS subscribers and HTTP bodies.
const StageCancelled = "cancelled"

// NewCancelledEvent returns the terminal marker of a cancelled run.
func NewCancelledEvent(runID string) Event {
	return Event{
		Kind:      KindProgress,
		Timestamp: time.Now().UTC().Round(0),
		Data: map[string]any{
			"run_id":  runID,
			"stage":   StageCancelled,
			"status":  string(StatusCancelled),
			"message": "Run cancelled",
		},
	}
}

// IsCancelled reports whether ev is a cancelled-run marker.
func IsCancelled(ev Event) bool {
	return ev.Kind == KindProgress && ev.Data["stage"] == StageCancelled
}

// Terminal reports whether ev is the last event of a run: an error, the final
// 100% progress tick, or a cancelled-run marker.
func Terminal(ev Event) bool {
	switch {
	case ev.Kind == KindError, IsCancelled(ev):
		return true
	case ev.Kind != KindProgress:
		return false
	}
	pct, ok := ev.Data["percentage"].(float64)
	if !ok {
		i, isInt := ev.Data["percentage"].(int)
		pct = float64(i)
		ok = isInt
	}
	return ok && pct >= 100
}

// MarshalJSON implements json.Marshaler. HTML characters are written as is.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wireEvent{
		Type:      e.Kind,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if !w.Type.Valid() {
		return fmt.Errorf("stream: unknown event type %q", w.Type)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("stream: timestamp: %w", err)
	}
	if w.Data == nil {
		w.Data = map[string]any{}
	}
	*e = Event{Kind: w.Type, Timestamp: ts.UTC(), Data: w.Data}
	return nil
}

// Encoder writes events as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Encoder{enc: enc}
}

// Encode writes one event followed by a newline.
func (e *Encoder) Encode(ev Event) error {
	return e.enc.Encode(ev)
}

// Decoder reads JSON-line events.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder returns a decoder reading from r. Lines up to 4MB are accepted.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{sc: sc}
}

// Decode reads the next event, skipping blank lines. It returns io.EOF at the end.
func (d *Decoder) Decode() (Event, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return Event{}, err
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ErrClosed is returned by Next once a stream is finished and drained.
var ErrClosed = errors.New("stream closed")
