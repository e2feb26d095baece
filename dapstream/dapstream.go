// Copyright © 2024 The ELPS authors

// Package dapstream receives test events from a debug adapter.  Test
// runners launched through a debug adapter report their results as custom
// DAP events whose body is a single test event; the Listener decodes
// those events and applies them to a session.
package dapstream

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/go-dap"
	jsoniter "github.com/json-iterator/go"
	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/session"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultEventName is the DAP event carrying test events.
const DefaultEventName = "dart.testNotification"

// ErrTerminated is the abort cause of a session whose debug adapter
// terminated before the runner reported done.
var ErrTerminated = errors.New("debug adapter terminated")

// ErrHandshake is returned when the adapter rejects initialization.
var ErrHandshake = errors.New("dap handshake failed")

// Listener feeds the test events of a debug adapter connection to
// sessions of a tracker.
type Listener struct {
	tracker   *session.Tracker
	log       logrus.FieldLogger
	eventName string
	handshake bool
	clientID  string
	adapterID string
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger of the listener.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Listener) { l.log = log }
}

// WithEventName sets the name of the custom event carrying test events.
func WithEventName(name string) Option {
	return func(l *Listener) { l.eventName = name }
}

// WithHandshake makes the listener initialize the adapter before reading
// events and disconnect from it once the session completes.  Without it
// the listener only reads, which suits adapters another client already
// drives.
func WithHandshake(clientID, adapterID string) Option {
	return func(l *Listener) {
		l.handshake = true
		l.clientID = clientID
		l.adapterID = adapterID
	}
}

// NewListener returns a Listener applying events to sessions of tracker.
func NewListener(tracker *session.Tracker, opts ...Option) *Listener {
	l := &Listener{
		tracker:   tracker,
		log:       logrus.StandardLogger(),
		eventName: DefaultEventName,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DialAndServe connects to the debug adapter listening on addr and serves
// the connection.
func (l *Listener) DialAndServe(ctx context.Context, addr string, req session.Request) (*session.Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return l.ServeConn(ctx, conn, req)
}

// Serve serves a connection made of a separate reader and writer, such as
// the standard streams of an adapter process.
func (l *Listener) Serve(ctx context.Context, r io.Reader, w io.Writer, req session.Request) (*session.Session, error) {
	return l.ServeConn(ctx, &stream{Reader: r, Writer: w}, req)
}

type stream struct {
	io.Reader
	io.Writer
}

func (s *stream) Close() error {
	var err error
	if c, ok := s.Reader.(io.Closer); ok {
		err = c.Close()
	}
	if c, ok := s.Writer.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ServeConn starts a session for req and applies the test events read
// from conn to it until the session completes, the adapter terminates or
// ctx is cancelled.  conn is closed before ServeConn returns.  The
// session is returned even when serving fails; it is aborted in that case.
func (l *Listener) ServeConn(ctx context.Context, conn io.ReadWriteCloser, req session.Request) (*session.Session, error) {
	s := l.tracker.Begin(ctx, req)
	c := &connection{
		l:    l,
		s:    s,
		log:  l.log.WithField("session", s.ID()),
		conn: conn,
		w:    bufio.NewWriter(conn),
	}
	err := c.serve(ctx)
	return s, err
}

type connection struct {
	l    *Listener
	s    *session.Session
	log  logrus.FieldLogger
	conn io.ReadWriteCloser

	mu  sync.Mutex
	w   *bufio.Writer
	seq int
}

type read struct {
	msg []byte
	err error
}

func (c *connection) serve(ctx context.Context) error {
	reads := make(chan read)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(c.conn)
		for {
			b, err := dap.ReadBaseMessage(r)
			select {
			case reads <- read{b, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		close(stop)
		_ = c.conn.Close()
		<-done
	}()

	if c.l.handshake {
		if err := c.initialize(); err != nil {
			c.s.Abort(err)
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			c.s.Abort(ctx.Err())
			return ctx.Err()
		case rd := <-reads:
			if rd.err != nil {
				return c.lost(rd.err)
			}
			end, err := c.dispatch(rd.msg)
			if err != nil {
				c.s.Abort(err)
				return err
			}
			if end {
				return c.finish()
			}
		}
	}
}

// lost handles the end of the connection.
func (c *connection) lost(err error) error {
	if c.completed() {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = session.ErrStreamEnded
	} else {
		err = errors.Wrap(err, "reading dap message")
	}
	c.s.Abort(err)
	return err
}

func (c *connection) completed() bool {
	select {
	case <-c.s.Done():
		return c.s.Err() == nil
	default:
		return false
	}
}

func (c *connection) finish() error {
	if !c.completed() {
		c.s.Abort(ErrTerminated)
		return ErrTerminated
	}
	if c.l.handshake {
		c.send(&dap.DisconnectRequest{Request: c.request("disconnect")})
	}
	return nil
}

type envelope struct {
	Type  string              `json:"type"`
	Event string              `json:"event"`
	Body  jsoniter.RawMessage `json:"body"`
}

// dispatch handles one DAP message.  It reports true once serving should
// stop.
func (c *connection) dispatch(b []byte) (bool, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.log.WithError(err).Warn("dapstream: skipping unreadable message")
		return false, nil
	}
	if env.Type == "event" && env.Event == c.l.eventName {
		return c.notification(env.Body), nil
	}
	msg, err := dap.DecodeProtocolMessage(b)
	if err != nil {
		c.log.WithError(err).Debugf("dapstream: ignoring %s %s", env.Type, env.Event)
		return false, nil
	}
	switch msg := msg.(type) {
	case *dap.InitializedEvent:
		c.send(&dap.ConfigurationDoneRequest{Request: c.request("configurationDone")})
	case *dap.TerminatedEvent, *dap.ExitedEvent:
		c.log.Debugf("dapstream: adapter sent %s", env.Event)
		return true, nil
	case *dap.OutputEvent:
		c.log.WithField("category", msg.Body.Category).Debug(msg.Body.Output)
	case *dap.ErrorResponse:
		if msg.Command == "initialize" {
			return true, errors.Wrapf(ErrHandshake, "%s", msg.Message)
		}
		c.log.Warnf("dapstream: %s failed: %s", msg.Command, msg.Message)
	}
	return false, nil
}

func (c *connection) notification(body []byte) bool {
	ev, err := events.Parse(body)
	if err != nil {
		c.log.WithError(err).Warn("dapstream: skipping malformed test event")
		return false
	}
	err = c.s.Handle(ev)
	switch {
	case errors.Is(err, session.ErrUnknownTest):
		c.log.WithError(err).Debug("dapstream: skipping event")
	case errors.Is(err, session.ErrSessionClosed):
		return true
	case err != nil:
		c.log.WithError(err).Warn("dapstream: event not applied")
	}
	return ev.Type == events.TypeDone
}

func (c *connection) initialize() error {
	err := c.write(&dap.InitializeRequest{
		Request: c.request("initialize"),
		Arguments: dap.InitializeRequestArguments{
			ClientID:        c.l.clientID,
			AdapterID:       c.l.adapterID,
			PathFormat:      "path",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
		},
	})
	return errors.Wrap(err, "initialize")
}

func (c *connection) request(command string) dap.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *connection) send(msg dap.Message) {
	if err := c.write(msg); err != nil {
		c.log.WithError(err).Warn("dapstream: send failed")
	}
}

func (c *connection) write(msg dap.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := dap.WriteProtocolMessage(c.w, msg); err != nil {
		return err
	}
	return c.w.Flush()
}

// EncodeNotification returns the DAP message carrying ev as the custom
// event name.  Adapters and test doubles use it to emit test events.
func EncodeNotification(seq int, name string, ev *events.Event) ([]byte, error) {
	body, err := events.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&struct {
		Seq   int                 `json:"seq"`
		Type  string              `json:"type"`
		Event string              `json:"event"`
		Body  jsoniter.RawMessage `json:"body"`
	}{seq, "event", name, body})
}
