package scgi

import (
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// serveOnce handles a single connection on ln in the background.
func serveOnce(t *testing.T, ln net.Listener, app Application) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer ShutdownClose(conn)
		_ = FromConn(conn).Run(app)
	}()
}

func TestClientRoundTrip(t *testing.T) {
	captureTrace(t)
	path := filepath.Join(t.TempDir(), "scgi.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	environments := make(chan Environment, 1)
	serveOnce(t, ln, func(env Environment, start StartResponse) (Body, error) {
		environments <- env
		_, err := start("200 OK", []Header{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Content-Length", Value: "11"},
		}, nil)
		if err != nil {
			return nil, err
		}
		return Chunks([]byte("hello world")), nil
	})

	client := &http.Client{Transport: &Client{}}
	resp, err := client.Get("scgi:///" + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))

	env := <-environments
	require.Equal(t, "GET", env["REQUEST_METHOD"])
	require.Equal(t, "1", env["SCGI"])
	require.Equal(t, "0", env["CONTENT_LENGTH"])
}

func TestClientSendsRequestBody(t *testing.T) {
	captureTrace(t)
	path := filepath.Join(t.TempDir(), "scgi.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()

	serveOnce(t, ln, func(env Environment, start StartResponse) (Body, error) {
		// Read exactly CONTENT_LENGTH bytes: the input stream is the
		// connection itself and does not end until the client hangs up.
		length, err := strconv.Atoi(env["CONTENT_LENGTH"].(string))
		if err != nil {
			return nil, err
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(env["wsgi.input"].(io.Reader), payload); err != nil {
			return nil, err
		}
		_, err = start("200 OK", []Header{
			{Name: "Content-Length", Value: strconv.Itoa(len(payload))},
		}, nil)
		if err != nil {
			return nil, err
		}
		return Chunks(payload), nil
	})

	client := &http.Client{Transport: &Client{}}
	resp, err := client.Post("scgi:///"+path, "text/plain", strings.NewReader("marvin"))
	require.NoError(t, err)
	defer resp.Body.Close()

	echoed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "marvin", string(echoed))
}

func TestClientRejectsAmbiguousURL(t *testing.T) {
	client := &Client{}
	req, err := http.NewRequest("GET", "scgi://host:80/also/a/path", nil)
	require.NoError(t, err)
	_, err = client.RoundTrip(req)
	require.Error(t, err)
}
