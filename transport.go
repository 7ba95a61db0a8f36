package gocnc

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
)

// Transport is the byte stream to the controller. Read may return 0, nil
// on timeouts.
type Transport interface {
	io.ReadWriteCloser
}

type TransportInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(context.Context, *Config) (Transport, error)
}

func (t *TransportInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", t.Name, t.Description, t.RequiresSerialPort)
}

var (
	transportMu  sync.RWMutex
	transportMap = make(map[string]*TransportInfo)
)

func init() {
	if err := RegisterTransport(&TransportInfo{
		Name:               "serial",
		Description:        "USB or RS232 serial port, 8N1",
		RequiresSerialPort: true,
		New:                OpenSerial,
	}); err != nil {
		panic(err)
	}
}

func RegisterTransport(t *TransportInfo) error {
	transportMu.Lock()
	defer transportMu.Unlock()
	if _, found := transportMap[t.Name]; found {
		return fmt.Errorf("transport %s already registered", t.Name)
	}
	transportMap[t.Name] = t
	return nil
}

func NewTransport(ctx context.Context, cfg *Config) (Transport, error) {
	transportMu.RLock()
	t, found := transportMap[cfg.Transport]
	transportMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return t.New(ctx, cfg)
}

func ListTransportNames() []string {
	transportMu.RLock()
	defer transportMu.RUnlock()
	var out []string
	for name := range transportMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

// OpenSerial opens cfg.Port, retrying since USB serial devices tend to show
// up a moment before they can be opened.
func OpenSerial(ctx context.Context, cfg *Config) (Transport, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port given")
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	log := cfg.logger().WithField("component", "serial")
	attempts := cfg.OpenAttempts
	if attempts == 0 {
		attempts = 1
	}
	var p serial.Port
	err := retry.Do(
		func() error {
			var err error
			p, err = serial.Open(cfg.Port, mode)
			if err != nil {
				return fmt.Errorf("failed to open com port %q: %w", cfg.Port, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("retry %d: %v", n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 10 * time.Millisecond
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		log.Warnf("failed to reset input buffer: %v", err)
	}
	if err := p.ResetOutputBuffer(); err != nil {
		log.Warnf("failed to reset output buffer: %v", err)
	}
	if err := setLatencyTimer(cfg.Port, 1); err != nil {
		log.Debugf("%s: %v", cfg.Port, err)
	}
	log.Debugf("opened %s at %d baud", cfg.Port, cfg.Baudrate)
	return p, nil
}

// lockedWriter serializes line writes from the client goroutine with the
// realtime bytes written by callers and the poller.
type lockedWriter struct {
	mu    sync.Mutex
	w     io.Writer
	count *atomic.Uint64
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n, err := lw.w.Write(p)
	if n > 0 && lw.count != nil {
		lw.count.Add(uint64(n))
	}
	if err != nil {
		return n, Unrecoverable(fmt.Errorf("write: %w", err))
	}
	return n, nil
}
