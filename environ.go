package scgi

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Environment is the request mapping handed to an application: every SCGI
// header plus the gateway-provided keys. Header values are strings; the
// gateway keys hold the types documented on NewEnvironment.
type Environment map[string]any

// NewEnvironment derives a request environment from a parsed header block.
//
// Gateway keys and their types:
//
//	wsgi.version      [2]int, always {1, 0}
//	wsgi.url_scheme   string, "https" only when HTTPS is "on" or "1"
//	wsgi.input        io.Reader; the connection when CONTENT_LENGTH is
//	                  non-zero, otherwise a fresh empty reader
//	wsgi.errors       io.Writer, the process-wide error stream
//	wsgi.multithread  bool, false
//	wsgi.multiprocess bool, true
//	wsgi.run_once     bool, false
//
// PATH_INFO and QUERY_STRING are split out of REQUEST_URI at the first "?";
// an already-present QUERY_STRING wins. REQUEST_URI is carried verbatim, so
// PATH_INFO may retain a scheme and host the outer proxy passed through.
// SCRIPT_NAME is always empty: mount prefixes are not supported.
func NewEnvironment(headers map[string]string, input io.Reader, errStream io.Writer) (Environment, error) {
	env := make(Environment, len(headers)+10)
	for name, value := range headers {
		env[name] = value
	}

	env["wsgi.version"] = [2]int{1, 0}
	env["wsgi.url_scheme"] = "http"
	if https := headers["HTTPS"]; https == "on" || https == "1" {
		env["wsgi.url_scheme"] = "https"
	}

	rawLength, ok := headers["CONTENT_LENGTH"]
	if !ok {
		return nil, errors.Wrap(ErrHeaderBlock, "missing CONTENT_LENGTH")
	}
	contentLength, err := strconv.Atoi(rawLength)
	if err != nil {
		return nil, errors.Wrapf(ErrHeaderBlock, "bad CONTENT_LENGTH %q", rawLength)
	}
	if contentLength != 0 {
		env["wsgi.input"] = input
	} else {
		env["wsgi.input"] = bytes.NewReader(nil)
	}

	env["wsgi.errors"] = errStream
	env["wsgi.multithread"] = false
	env["wsgi.multiprocess"] = true
	env["wsgi.run_once"] = false

	path, query, _ := strings.Cut(headers["REQUEST_URI"], "?")
	if _, ok := env["QUERY_STRING"]; !ok {
		env["QUERY_STRING"] = query
	}
	env["SCRIPT_NAME"] = ""
	env["PATH_INFO"] = path

	return env, nil
}
