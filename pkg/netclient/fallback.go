package netclient

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
)

// connectionErrorMarkers classify transport-level failures from their
// message when no typed error is available. Any of these means the
// scheme may simply be wrong and the alternate scheme is worth one
// attempt.
var connectionErrorMarkers = []string{
	"connection refused",
	"connection reset",
	"ssl",
	"tls",
	"certificate",
	"handshake",
	"protocol",
	"timeout",
	"record overflow",
	"invalid data",
	"unexpected eof",
}

// IsConnectionError reports whether err is a connection-level failure
// (refused, reset, TLS negotiation, timeout) as opposed to a protocol
// response. Any received HTTP response, whatever its status, proves
// the scheme and must not trigger fallback.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
