// Package scgi implements the server side of SCGI: reading the
// netstring-framed header block, synthesizing a request environment, and
// enforcing the start-response/write ordering rules. It also provides a
// simple scgi client and a number of primitives needed for basic scgi
// operation.
//
// The client can be used directly as a net/http.Client's RoundTripper or it
// can be added to a net/http.Transport using RegisterProtocol.
package scgi

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Client is an implementation of net/http.RoundTripper which speaks SCGI to
// a listening socket.
//
// This client supports three different types of urls:
//
//   - Relative socket path (scgi:///relative/path)
//   - Absolute socket path (scgi:////absolute/path)
//   - Host/Port (scgi://host:port)
type Client struct{}

// RoundTrip implements the net/http.RoundTripper interface.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if (req.URL.Host != "" && req.URL.Path != "") || (req.URL.Host == "" && req.URL.Path == "") {
		return nil, errors.New("scgi: round trip: invalid scgi connection string")
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "scgi: round trip: read request body")
		}
	}

	conn, err := c.dial(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(conn, req, body)
	if err != nil {
		conn.Close()
		return nil, err
	}

	// The connection stays open until the caller is done with the body.
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

func (c *Client) exchange(conn net.Conn, req *http.Request, body []byte) (*http.Response, error) {
	// The required headers lead the block; CONTENT_LENGTH must come first.
	pairs := []string{
		"CONTENT_LENGTH", strconv.Itoa(len(body)),
		"SCGI", "1",
		"REQUEST_METHOD", req.Method,
		"REQUEST_URI", req.URL.RequestURI(),
		"SERVER_PROTOCOL", req.Proto,
	}
	for key, values := range req.Header {
		pairs = append(pairs, strings.ToUpper(key), strings.Join(values, ","))
	}

	var block bytes.Buffer
	for _, field := range pairs {
		encoded, err := latin1Bytes(field)
		if err != nil {
			return nil, err
		}
		block.Write(encoded)
		block.WriteByte(0)
	}

	if err := WriteNetstring(conn, block.Bytes()); err != nil {
		return nil, errors.Wrap(err, "scgi: round trip")
	}
	if _, err := conn.Write(body); err != nil {
		return nil, errors.Wrap(err, "scgi: round trip: write request body")
	}

	return readCGIResponse(conn, req)
}

func (c *Client) dial(req *http.Request) (net.Conn, error) {
	if req.URL.Host == "" {
		// Chop off the first slash so it's possible to support relative
		// paths.
		path := strings.TrimPrefix(req.URL.Path, "/")
		conn, err := net.Dial("unix", path)
		return conn, errors.Wrap(err, "scgi: round trip over unix socket")
	}

	port := req.URL.Port()
	if port == "" {
		port = "80"
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(req.URL.Hostname(), port))
	return conn, errors.Wrap(err, "scgi: round trip over tcp")
}

// readCGIResponse adapts a CGI-style response to net/http. The gateway puts
// the Status header first, so synthesizing an HTTP status line in front of
// the remaining headers is enough for a normal http parser.
func readCGIResponse(conn net.Conn, req *http.Request) (*http.Response, error) {
	r := bufio.NewReader(conn)

	firstLine, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "scgi: round trip: invalid response format")
	}
	firstLine = strings.TrimRight(firstLine, "\r\n")

	name, status, found := strings.Cut(firstLine, ": ")
	if !found {
		return nil, errors.New("scgi: round trip: invalid status response format")
	}
	if name != "Status" {
		return nil, errors.New("scgi: round trip: invalid status header")
	}

	rest := bufio.NewReader(io.MultiReader(
		strings.NewReader(req.Proto+" "+status+"\r\n"),
		r))

	resp, err := http.ReadResponse(rest, req)
	return resp, errors.Wrap(err, "scgi: round trip: read response")
}

// connBody closes the underlying connection along with the response body.
type connBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
