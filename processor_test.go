package scgi

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// requestBytes frames header pairs and a body as one SCGI request.
func requestBytes(t *testing.T, pairs [][2]string, body string) *bytes.Buffer {
	t.Helper()
	var block bytes.Buffer
	for _, pair := range pairs {
		block.WriteString(pair[0])
		block.WriteByte(0)
		block.WriteString(pair[1])
		block.WriteByte(0)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteNetstring(&buf, block.Bytes()))
	buf.WriteString(body)
	return &buf
}

func getRequest(t *testing.T, path string) *bytes.Buffer {
	t.Helper()
	return requestBytes(t, [][2]string{
		{"CONTENT_LENGTH", "0"},
		{"SCGI", "1"},
		{"REQUEST_METHOD", "GET"},
		{"REQUEST_URI", path},
	}, "")
}

func okApp(chunks ...[]byte) Application {
	return func(env Environment, start StartResponse) (Body, error) {
		if _, err := start(okStatus, okHeaders, nil); err != nil {
			return nil, err
		}
		return Chunks(chunks...), nil
	}
}

func TestRunWritesResponse(t *testing.T) {
	logs := captureTrace(t)
	var out bytes.Buffer
	p := NewRequestProcessor(getRequest(t, "/blah"), &out)

	require.NoError(t, p.Run(okApp([]byte("some data"))))
	require.Equal(t, append(append([]byte{}, okHeaderBlock...), "some data"...), out.Bytes())
	require.Equal(t, "succeeded", actionOutcome(logs, "wsgi_request"))
}

func TestRunTagsRequestPath(t *testing.T) {
	logs := captureTrace(t)
	p := NewRequestProcessor(getRequest(t, "/deepthought?q=42"), &bytes.Buffer{})

	require.NoError(t, p.Run(okApp()))

	entries := logs.FilterMessage("wsgi_request").All()
	require.NotEmpty(t, entries)
	require.Equal(t, "/deepthought", entries[0].ContextMap()["path"])
}

func TestRunFlushesHeadersForEmptyBody(t *testing.T) {
	captureTrace(t)
	var out bytes.Buffer
	p := NewRequestProcessor(getRequest(t, "/blah"), &out)

	require.NoError(t, p.Run(okApp()))
	require.Equal(t, okHeaderBlock, out.Bytes())
}

// releaseBody records whether the gateway released it after iteration.
type releaseBody struct {
	Body
	released bool
}

func (b *releaseBody) Release() { b.released = true }

func TestRunReleasesBody(t *testing.T) {
	captureTrace(t)
	body := &releaseBody{Body: Chunks([]byte("some data"))}
	p := NewRequestProcessor(getRequest(t, "/blah"), &bytes.Buffer{})

	err := p.Run(func(env Environment, start StartResponse) (Body, error) {
		_, err := start(okStatus, okHeaders, nil)
		return body, err
	})
	require.NoError(t, err)
	require.True(t, body.released)
}

func TestRunReleasesEmptyBody(t *testing.T) {
	captureTrace(t)
	body := &releaseBody{Body: Chunks()}
	var out bytes.Buffer
	p := NewRequestProcessor(getRequest(t, "/blah"), &out)

	err := p.Run(func(env Environment, start StartResponse) (Body, error) {
		_, err := start(okStatus, okHeaders, nil)
		return body, err
	})
	require.NoError(t, err)
	require.True(t, body.released)
	require.Equal(t, okHeaderBlock, out.Bytes())
}

func TestRunExposesRequestBody(t *testing.T) {
	captureTrace(t)
	in := requestBytes(t, [][2]string{
		{"CONTENT_LENGTH", "11"},
		{"SCGI", "1"},
		{"REQUEST_METHOD", "POST"},
		{"REQUEST_URI", "/in"},
	}, "hello world")
	var out bytes.Buffer
	p := NewRequestProcessor(in, &out)

	err := p.Run(func(env Environment, start StartResponse) (Body, error) {
		payload := make([]byte, 11)
		if _, err := io.ReadFull(env["wsgi.input"].(io.Reader), payload); err != nil {
			return nil, err
		}
		if _, err := start(okStatus, okHeaders, nil); err != nil {
			return nil, err
		}
		return Chunks(payload), nil
	})
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, okHeaderBlock...), "hello world"...), out.Bytes())
}

func TestRunFailsOnUnparsableRequest(t *testing.T) {
	logs := captureTrace(t)
	p := NewRequestProcessor(bytes.NewBufferString("complete garbage"), &bytes.Buffer{})

	err := p.Run(okApp())
	require.ErrorIs(t, err, ErrNetstring)
	require.Equal(t, "failed", actionOutcome(logs, "scgi_parse"))
	require.Empty(t, logs.FilterMessage("wsgi_request").All())
}

func TestRunSurfacesApplicationFailure(t *testing.T) {
	logs := captureTrace(t)
	p := NewRequestProcessor(getRequest(t, "/blah"), &bytes.Buffer{})

	err := p.Run(func(env Environment, start StartResponse) (Body, error) {
		return nil, errFromApp
	})
	require.Same(t, errFromApp, err)
	require.Equal(t, "failed", actionOutcome(logs, "wsgi_request"))
}
