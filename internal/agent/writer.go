package agent

import (
	"bytes"
	"io"
	"net/http"

	"github.com/hyperengineering/planlearn/internal/stream"
)

// eventWriter writes assistant text and framed events to the response.
// Output is held back until release, so a request that fails before the
// model answers leaves the response untouched.
type eventWriter struct {
	w        io.Writer
	held     bytes.Buffer
	released bool
}

func newEventWriter(w io.Writer) *eventWriter {
	return &eventWriter{w: w}
}

func (e *eventWriter) write(s string) error {
	if !e.released {
		e.held.WriteString(s)
		return nil
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return err
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// release writes everything held so far and streams from then on.
func (e *eventWriter) release() error {
	if e.released {
		return nil
	}
	e.released = true
	if e.held.Len() == 0 {
		return nil
	}
	s := e.held.String()
	e.held.Reset()
	return e.write(s)
}

func (e *eventWriter) event(ev stream.Event) error {
	return e.write(stream.Frame(ev))
}

// text streams an assistant delta, releasing held output first.
func (e *eventWriter) text(s string) error {
	if err := e.release(); err != nil {
		return err
	}
	return e.write(s)
}
