package scgi

import (
	"bufio"
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/rakshasa/go-scgi-handoff/trace"
)

// StartResponse delivers the response status and headers and returns the
// body write sink. See ResponseWriter.StartResponse for the ordering rules.
type StartResponse func(status string, headers []Header, excInfo error) (func([]byte) error, error)

// Application is the hosted request-to-response callable. It receives the
// request environment, must call start before any body is written (a
// second call is accepted only with excInfo, see ResponseWriter), and
// returns its response body as a finite sequence of chunks.
type Application func(env Environment, start StartResponse) (Body, error)

// Body is a lazy sequence of response chunks. Next returns io.EOF once the
// body is exhausted.
type Body interface {
	Next() ([]byte, error)
}

// Releaser is optionally implemented by bodies holding resources the
// gateway must release after iteration, whether or not any chunk was
// produced.
type Releaser interface {
	Release()
}

// Chunks returns a Body yielding the given chunks in order.
func Chunks(chunks ...[]byte) Body {
	return &chunkBody{chunks: chunks}
}

type chunkBody struct {
	chunks [][]byte
}

func (b *chunkBody) Next() ([]byte, error) {
	if len(b.chunks) == 0 {
		return nil, io.EOF
	}
	chunk := b.chunks[0]
	b.chunks = b.chunks[1:]
	return chunk, nil
}

// RequestProcessor drives exactly one SCGI request over one connection:
// parse the header block, synthesize the environment, invoke the
// application, stream its response.
type RequestProcessor struct {
	in        *bufio.Reader
	out       io.Writer
	errStream io.Writer
}

// NewRequestProcessor builds a processor over separate input and output
// streams. out must be unbuffered.
func NewRequestProcessor(in io.Reader, out io.Writer) *RequestProcessor {
	return &RequestProcessor{
		in:        bufio.NewReader(in),
		out:       out,
		errStream: os.Stderr,
	}
}

// FromConn splits an accepted connection into a buffered input stream and an
// unbuffered output stream.
func FromConn(conn net.Conn) *RequestProcessor {
	return NewRequestProcessor(conn, conn)
}

// Run reads the request, invokes app, and writes the response. Parse errors
// and ordering violations abort the request; the caller closes the
// connection either way.
func (p *RequestProcessor) Run(app Application) error {
	headers, err := ReadHeaders(p.in)
	if err != nil {
		return err
	}
	env, err := NewEnvironment(headers, p.in, p.errStream)
	if err != nil {
		return err
	}

	path, _ := env["PATH_INFO"].(string)
	act := trace.Begin("wsgi_request", zap.String("path", path))
	if err := p.runApp(app, env); err != nil {
		act.Fail(err)
		return err
	}
	act.Succeed()
	return nil
}

func (p *RequestProcessor) runApp(app Application, env Environment) error {
	w := NewResponseWriter(p.out)
	body, err := app(env, w.StartResponse)
	if err != nil {
		return err
	}
	if body == nil {
		return w.Write(nil)
	}
	if releaser, ok := body.(Releaser); ok {
		defer releaser.Release()
	}

	for {
		chunk, err := body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := w.Write(chunk); err != nil {
			return err
		}
	}

	// An application that produced no body still gets its header block
	// flushed exactly once.
	if !w.headersSent {
		return w.Write(nil)
	}
	return nil
}
