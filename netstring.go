package scgi

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// maxLengthDigits caps the netstring length prefix at seven decimal digits,
// which bounds a header block to just under 10 MiB before anything is
// allocated for it.
const maxLengthDigits = 7

// WriteNetstring takes the given data and writes it in netstring format to
// the given writer. It does not do any validation on the actual data.
func WriteNetstring(w io.Writer, data []byte) error {
	if _, err := io.WriteString(w, strconv.Itoa(len(data))); err != nil {
		return errors.Wrap(err, "netstring: write length")
	}
	if _, err := w.Write([]byte{':'}); err != nil {
		return errors.Wrap(err, "netstring: write separator")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "netstring: write payload")
	}
	if _, err := w.Write([]byte{','}); err != nil {
		return errors.Wrap(err, "netstring: write terminator")
	}
	return nil
}

// ReadNetstring assumes the next thing arriving from a bufio.Reader is a
// netstring and attempts to read and parse it. A zero length is legal and
// yields an empty payload.
func ReadNetstring(r *bufio.Reader) ([]byte, error) {
	var digits []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrapf(ErrNetstring, "reading length: %v", err)
		}
		if c == ':' {
			break
		}
		if c < '0' || c > '9' {
			return nil, errors.Wrapf(ErrNetstring, "unexpected byte %q in length", c)
		}
		if len(digits) == maxLengthDigits {
			return nil, errors.Wrap(ErrNetstring, "length prefix too long")
		}
		digits = append(digits, c)
	}
	if len(digits) == 0 {
		return nil, errors.Wrap(ErrNetstring, "empty length")
	}

	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, errors.Wrapf(ErrNetstring, "parsing length %q: %v", digits, err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrapf(ErrNetstring, "reading %d-byte payload: %v", length, err)
	}

	c, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrapf(ErrNetstring, "reading terminator: %v", err)
	}
	if c != ',' {
		return nil, errors.Wrap(ErrNetstring, "missing trailing comma")
	}
	return payload, nil
}
