package relay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

type NATSMirror struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSMirror(url, prefix string, m ConnectionMetrics, log *slog.Logger) (*NATSMirror, error) {
	if log == nil {
		log = slog.Default()
	}
	setConnected := func(up bool) {
		if m != nil {
			m.MirrorConnected("nats", up)
		}
	}

	nc, err := nats.Connect(url,
		nats.Name("tripshare"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			setConnected(true)
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return &NATSMirror{nc: nc, prefix: subjectToken(prefix)}, nil
}

func (m *NATSMirror) Name() string { return "nats" }

// Mirror publishes without waiting for a flush; ctx is unused because
// nats.Conn.Publish only buffers.
func (m *NATSMirror) Mirror(_ context.Context, room, event string, payload []byte) error {
	return m.nc.Publish(Subject(m.prefix, tripIDFromRoom(room), event), payload)
}

func (m *NATSMirror) Close() {
	if m.nc != nil {
		_ = m.nc.Drain()
		m.nc.Close()
	}
}

// Subject is <prefix>.trips.<id>.<event> with each token sanitised.
func Subject(prefix, tripID, event string) string {
	return strings.Join([]string{subjectToken(prefix), "trips", subjectToken(tripID), subjectToken(event)}, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, '.', '>' or '*'.
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
