package scgi

import (
	"bufio"
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"

	"github.com/rakshasa/go-scgi-handoff/trace"
)

// ReadHeaders reads one SCGI header block from the front of a connection: a
// netstring whose payload is a sequence of NUL-terminated name/value byte
// strings. Header bytes are decoded as ISO-8859-1 so every octet round-trips
// into a native string.
func ReadHeaders(r *bufio.Reader) (map[string]string, error) {
	act := trace.Begin("scgi_parse")
	headers, err := readHeaderBlock(r)
	if err != nil {
		act.Fail(err)
		return nil, err
	}
	act.Succeed()
	return headers, nil
}

func readHeaderBlock(r *bufio.Reader) (map[string]string, error) {
	block, err := ReadNetstring(r)
	if err != nil {
		return nil, err
	}

	fields := bytes.Split(block, []byte{0})
	last := len(fields) - 1
	if len(fields[last]) != 0 {
		return nil, errors.Wrap(ErrHeaderBlock, "block does not end with NUL")
	}
	fields = fields[:last]
	if len(fields)%2 != 0 {
		return nil, errors.Wrapf(ErrHeaderBlock, "odd field count %d", len(fields))
	}

	headers := make(map[string]string, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		headers[latin1String(fields[i])] = latin1String(fields[i+1])
	}
	return headers, nil
}

// latin1String decodes header bytes as ISO-8859-1. The decode cannot fail:
// every byte maps to exactly one rune.
func latin1String(b []byte) string {
	s, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(s)
}

// latin1Bytes is the inverse of latin1String. It fails on runes above U+00FF.
func latin1Bytes(s string) ([]byte, error) {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(err, "scgi: header text is not ISO-8859-1")
	}
	return b, nil
}
