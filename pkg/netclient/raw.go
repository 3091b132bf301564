package netclient

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tplscan/tplscan/pkg/iohelper"
	"github.com/tplscan/tplscan/pkg/matcher"
)

// rawEscapes maps template escape sequences to wire bytes. Order
// matters: \r\n must be replaced before its parts.
var rawEscaper = strings.NewReplacer(
	`\r\n`, "\r\n",
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
)

// RawExchange dials a TCP or UDP endpoint, writes each payload
// (escape sequences unescaped), and reads up to readSize bytes per
// payload. The result is a pseudo-response so matchers apply: status
// fixed at 200, no headers, zero elapsed time.
func (c *Client) RawExchange(ctx context.Context, network, addr string, payloads []string, readSize int) (*matcher.Response, error) {
	if network != "tcp" && network != "udp" {
		return nil, fmt.Errorf("raw exchange: unsupported network %q", network)
	}
	if readSize <= 0 {
		readSize = iohelper.RawReadSize
	}
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	timeout := c.cfg.HTTP.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("raw exchange: dial %s %s: %w", network, addr, err)
	}
	defer conn.Close()

	var collected []byte
	buf := make([]byte, readSize)
	for _, payload := range payloads {
		data := rawEscaper.Replace(payload)
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		if _, err := conn.Write([]byte(data)); err != nil {
			return nil, fmt.Errorf("raw exchange: write: %w", err)
		}

		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			collected = append(collected, buf[:n]...)
		}
		if err != nil {
			// A read timeout or EOF after a write is normal for
			// fire-and-forget probes; keep what was collected.
			break
		}
	}

	return &matcher.Response{
		StatusCode: 200,
		Headers:    nil,
		Body:       collected,
		Elapsed:    0,
	}, nil
}
