// Package iohelper bounds reads of network payloads so a hostile
// endpoint cannot exhaust memory with an oversized response.
package iohelper

import "io"

// Body size limits by use case.
const (
	// SmallMaxBodySize covers banners and status pages (8KB).
	SmallMaxBodySize int64 = 8 * 1024

	// DefaultMaxBodySize covers general HTTP responses (1MB).
	DefaultMaxBodySize int64 = 1024 * 1024

	// RawReadSize is the default read window for raw TCP/UDP
	// exchanges when a template does not set one (4KB).
	RawReadSize = 4 * 1024
)

// ReadBody reads from r up to maxSize bytes. A nil reader yields an
// empty slice.
func ReadBody(r io.Reader, maxSize int64) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadBodyDefault reads with the 1MB default limit.
func ReadBodyDefault(r io.Reader) ([]byte, error) {
	return ReadBody(r, DefaultMaxBodySize)
}

// DrainAndClose consumes any remaining data (bounded) and closes r if
// it is a ReadCloser, so keep-alive connections can be reused. Always
// returns nil for use in defer.
func DrainAndClose(r io.Reader) error {
	if r == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	if rc, ok := r.(io.ReadCloser); ok {
		rc.Close()
	}
	return nil
}
