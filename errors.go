package scgi

import "github.com/pkg/errors"

// Framing errors are fatal to the connection they occur on; ordering errors
// are bugs in the hosted application and fatal to the in-flight request.
// Either way the serving loop carries on with the next connection.
var (
	// ErrNetstring reports a malformed netstring: a bad or oversized length
	// prefix, a truncated payload, or a missing trailing comma.
	ErrNetstring = errors.New("scgi: malformed netstring")

	// ErrHeaderBlock reports an SCGI header block that does not end with a
	// NUL, has an odd number of fields, or is missing a required header.
	ErrHeaderBlock = errors.New("scgi: malformed header block")

	// ErrWriteBeforeStart reports a body write issued before the response
	// was started.
	ErrWriteBeforeStart = errors.New("scgi: write before start of response")

	// ErrResponseStarted reports a second attempt to start a response whose
	// headers were already prepared or sent.
	ErrResponseStarted = errors.New("scgi: response already started")
)
