package gocnc

import (
	"context"
	"fmt"
	"strings"
)

// framer accumulates bytes until a newline and returns the completed lines.
type framer struct {
	buf []byte
}

func (f *framer) push(data []byte) []string {
	var lines []string
	for _, b := range data {
		switch b {
		case '\n':
			line := strings.TrimSpace(string(f.buf))
			f.buf = f.buf[:0]
			if line != "" {
				lines = append(lines, line)
			}
		case '\r':
		default:
			f.buf = append(f.buf, b)
		}
	}
	return lines
}

func (c *Client) readLoop(ctx context.Context) error {
	var f framer
	readBuf := make([]byte, 256)
	for ctx.Err() == nil && !c.stopping.Load() {
		n, err := c.port.Read(readBuf)
		if n > 0 {
			c.stats.recvBytes.Add(uint64(n))
			for _, line := range f.push(readBuf[:n]) {
				if c.cfg.Debug {
					c.log.Debugf("<< %s", line)
				}
				select {
				case c.inbox <- message{line: line}:
				case <-c.loopDone:
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if c.stopping.Load() || ctx.Err() != nil {
				return nil
			}
			return Unrecoverable(fmt.Errorf("read: %w", err))
		}
	}
	return nil
}
