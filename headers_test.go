package scgi

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// headerBlock frames raw header-block bytes as one netstring.
func headerBlock(t *testing.T, raw []byte) *bufio.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteNetstring(&buf, raw))
	return bufio.NewReader(&buf)
}

func TestReadHeaders(t *testing.T) {
	logs := captureTrace(t)

	raw := []byte("CONTENT_LENGTH\x0027\x00SCGI\x001\x00" +
		"REQUEST_METHOD\x00POST\x00REQUEST_URI\x00/deepthought\x00")
	require.Len(t, raw, 70)

	headers, err := ReadHeaders(headerBlock(t, raw))
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"CONTENT_LENGTH": "27",
		"SCGI":           "1",
		"REQUEST_METHOD": "POST",
		"REQUEST_URI":    "/deepthought",
	}, headers)
	require.Equal(t, "succeeded", actionOutcome(logs, "scgi_parse"))
}

func TestReadHeadersEmptyBlock(t *testing.T) {
	captureTrace(t)

	headers, err := ReadHeaders(headerBlock(t, nil))
	require.NoError(t, err)
	require.Empty(t, headers)
}

func TestReadHeadersDecodesLatin1(t *testing.T) {
	captureTrace(t)

	headers, err := ReadHeaders(headerBlock(t, []byte("X_MARKER\x00\xbf\x00")))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"X_MARKER": "¿"}, headers)
}

func TestReadHeadersMissingTrailingNul(t *testing.T) {
	logs := captureTrace(t)

	raw := []byte("missing trailing null")
	require.Len(t, raw, 21)

	_, err := ReadHeaders(headerBlock(t, raw))
	require.ErrorIs(t, err, ErrHeaderBlock)
	require.Equal(t, "failed", actionOutcome(logs, "scgi_parse"))
}

func TestReadHeadersOddFieldCount(t *testing.T) {
	captureTrace(t)

	_, err := ReadHeaders(headerBlock(t, []byte("NAME\x00value\x00stray\x00")))
	require.ErrorIs(t, err, ErrHeaderBlock)
}

func TestReadHeadersBadNetstring(t *testing.T) {
	logs := captureTrace(t)

	r := bufio.NewReader(bytes.NewReader([]byte("not a netstring")))
	_, err := ReadHeaders(r)
	require.ErrorIs(t, err, ErrNetstring)
	require.Equal(t, "failed", actionOutcome(logs, "scgi_parse"))
}
