package handoff

import (
	"strings"

	"github.com/pkg/errors"
)

// ParseEndpoint turns an endpoint description such as "unix:/run/app.sock"
// or "tcp:127.0.0.1:4000" into a network and address for net.Listen. A bare
// path starting with "/" is a unix endpoint.
func ParseEndpoint(s string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(s, "unix:"):
		return "unix", strings.TrimPrefix(s, "unix:"), nil
	case strings.HasPrefix(s, "tcp:"):
		return "tcp", strings.TrimPrefix(s, "tcp:"), nil
	case strings.HasPrefix(s, "/"):
		return "unix", s, nil
	}
	return "", "", errors.Errorf("handoff: unrecognized endpoint %q", s)
}
