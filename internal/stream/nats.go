package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for published run events.
const DefaultSubjectPrefix = "veritas.runs"

// Sink receives a copy of every event of a run.
type Sink interface {
	Publish(ctx context.Context, runID string, ev Event) error
}

// NATSSink publishes events to <prefix>.<run_id>.<type>.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink creates a sink on an established connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Publish implements Sink.
func (s *NATSSink) Publish(ctx context.Context, runID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(Subject(s.prefix, runID, ev.Kind), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe delivers the events of one run to ch until the subscription is
// drained or unsubscribed.
func (s *NATSSink) Subscribe(runID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return s.nc.ChanSubscribe(RunSubject(s.prefix, runID), ch)
}

// Subject returns the subject for one event kind of a run.
func Subject(prefix, runID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", prefix, runID, kind)
}

// RunSubject matches every event of a run.
func RunSubject(prefix, runID string) string {
	return fmt.Sprintf("%s.%s.*", prefix, runID)
}
