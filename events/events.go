// Copyright © 2024 The ELPS authors

// Package events decodes the machine readable event stream of a test runner.
// The stream is the JSON reporter protocol: one JSON object per line, each
// carrying a type and a timestamp in milliseconds since the runner started.
package events

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

// ErrMalformedEvent is returned for a line that looks like an event but
// cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type is the kind of a runner event.
type Type string

const (
	TypeStart     Type = "start"
	TypeAllSuites Type = "allSuites"
	TypeSuite     Type = "suite"
	TypeGroup     Type = "group"
	TypeTestStart Type = "testStart"
	TypeTestDone  Type = "testDone"
	TypeError     Type = "error"
	TypePrint     Type = "print"
	TypeDone      Type = "done"
)

// Result values of a testDone event.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Event is a single runner event.  Only the fields relevant to Type are
// set.
type Event struct {
	Type Type `json:"type"`
	// Time is milliseconds since the runner started.
	Time int64 `json:"time"`

	// start
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	RunnerVersion   string `json:"runnerVersion,omitempty"`
	PID             int    `json:"pid,omitempty"`

	// allSuites
	Count int `json:"count,omitempty"`

	Suite *Suite `json:"suite,omitempty"`
	Group *Group `json:"group,omitempty"`
	Test  *Test  `json:"test,omitempty"`

	// testDone, error and print
	TestID int `json:"testID,omitempty"`

	// testDone
	Result  string `json:"result,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Hidden  bool   `json:"hidden,omitempty"`

	// error
	Error      string `json:"error,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	IsFailure  bool   `json:"isFailure,omitempty"`

	// print
	MessageType string `json:"messageType,omitempty"`
	Message     string `json:"message,omitempty"`

	// done
	Success *bool `json:"success,omitempty"`
}

// Suite is the payload of a suite event.
type Suite struct {
	ID       int    `json:"id"`
	Platform string `json:"platform,omitempty"`
	Path     string `json:"path"`
}

// Group is the payload of a group event.  The root group of a suite has
// an empty name and no parent.
type Group struct {
	ID        int    `json:"id"`
	SuiteID   int    `json:"suiteID"`
	ParentID  *int   `json:"parentID"`
	Name      string `json:"name"`
	TestCount int    `json:"testCount,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Test is the payload of a testStart event.  Line and URL locate the
// declaration in the suite file; RootLine and RootURL are set when the
// declaration sits in a helper in another file.
type Test struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	SuiteID    int    `json:"suiteID"`
	GroupIDs   []int  `json:"groupIDs"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	URL        string `json:"url,omitempty"`
	RootLine   int    `json:"root_line,omitempty"`
	RootColumn int    `json:"root_column,omitempty"`
	RootURL    string `json:"root_url,omitempty"`
}

// DeclLine is the line of the test's declaration in its suite file.
func (t *Test) DeclLine() int {
	if t.RootLine > 0 {
		return t.RootLine
	}
	return t.Line
}

// IsLoading reports whether t is the synthetic test the runner reports
// while loading a suite file.
func (t *Test) IsLoading() bool {
	return len(t.GroupIDs) == 0 && strings.HasPrefix(t.Name, "loading ")
}

// Parse decodes a single event.
func Parse(b []byte) (*Event, error) {
	ev := &Event{}
	err := json.Unmarshal(b, ev)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedEvent, "%v", err)
	}
	if ev.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing type")
	}
	return ev, nil
}

// Marshal encodes ev as a single line of JSON without a trailing newline.
func Marshal(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Decoder reads events from a line oriented stream.  Lines that do not
// start with '{' are runner chatter (compiler output, prints from the
// runner itself) and are skipped.
type Decoder struct {
	s    *bufio.Scanner
	line int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Decoder{s: s}
}

// Next returns the next event.  It returns io.EOF at the end of the
// stream.  A malformed event is returned as an error wrapping
// ErrMalformedEvent; decoding may continue after it.
func (d *Decoder) Next() (*Event, error) {
	for d.s.Scan() {
		d.line++
		b := bytes.TrimSpace(d.s.Bytes())
		if len(b) == 0 || b[0] != '{' {
			continue
		}
		ev, err := Parse(b)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", d.line)
		}
		return ev, nil
	}
	if err := d.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Encoder writes events one per line.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes ev followed by a newline.
func (e *Encoder) Encode(ev *Event) error {
	b, err := Marshal(ev)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(b, '\n'))
	return err
}
