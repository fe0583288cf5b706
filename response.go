package scgi

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rakshasa/go-scgi-handoff/trace"
)

// Header is one response header line.
type Header struct {
	Name  string
	Value string
}

// ResponseWriter buffers the status line and headers of one response and
// streams body bytes to the connection. Writes are unbuffered: every call
// reaches the peer before the next is issued.
//
// The ordering contract: StartResponse must come first, the header block
// goes out on the first Write, and a second StartResponse is only allowed
// with an excInfo error (before any write it replaces the pending headers;
// after a write it propagates the error, since the response can no longer
// be repaired).
type ResponseWriter struct {
	out         io.Writer
	pending     []byte
	headersSent bool
}

// NewResponseWriter returns a writer emitting to out, which must be an
// unbuffered sink on the connection.
func NewResponseWriter(out io.Writer) *ResponseWriter {
	return &ResponseWriter{out: out}
}

// StartResponse prepares the status line and headers and returns the body
// write sink.
//
// excInfo carries an error the application caught while producing the
// response. If headers already went out the error is returned to the caller
// unchanged: the partially-emitted response cannot be recovered. If they
// have not, the new status and headers replace the pending block. Without
// excInfo, calling StartResponse twice fails with ErrResponseStarted.
func (w *ResponseWriter) StartResponse(status string, headers []Header, excInfo error) (func([]byte) error, error) {
	if excInfo != nil {
		if w.headersSent {
			return nil, excInfo
		}
	} else if w.pending != nil || w.headersSent {
		return nil, errors.Wrapf(ErrResponseStarted, "cannot restart with status %q", status)
	}

	lines := make([]string, len(headers))
	for i, h := range headers {
		lines[i] = h.Name + ": " + h.Value
	}
	block := "Status: " + status + "\r\n" + strings.Join(lines, "\r\n") + "\r\n\r\n"

	encoded, err := latin1Bytes(block)
	if err != nil {
		return nil, err
	}

	trace.Point("response_started", zap.String("status", status))
	w.pending = encoded
	return w.Write, nil
}

// Write sends body bytes, flushing the pending header block first if it has
// not gone out yet. An empty write is legal and still flushes the headers.
func (w *ResponseWriter) Write(data []byte) error {
	if !w.headersSent {
		if w.pending == nil {
			return errors.WithStack(ErrWriteBeforeStart)
		}
		if _, err := w.out.Write(w.pending); err != nil {
			return errors.Wrap(err, "scgi: write header block")
		}
		w.headersSent = true
		w.pending = nil
	}
	if len(data) > 0 {
		if _, err := w.out.Write(data); err != nil {
			return errors.Wrap(err, "scgi: write body")
		}
	}
	return nil
}
