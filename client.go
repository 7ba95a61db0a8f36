package gocnc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// message is what the client goroutine consumes: a framed line from the
// controller, a request from a caller or the stop sentinel.
type message struct {
	line string
	req  func(*Engine) error
	resp chan error
	stop bool
}

// Client streams to one controller. Every method is safe for concurrent use.
type Client struct {
	cfg    *Config
	port   Transport
	w      *lockedWriter
	engine *Engine
	h      *handler
	log    *logrus.Entry
	stats  counters

	inbox    chan message
	loopDone chan struct{}
	done     chan struct{}
	stopping atomic.Bool
	booted   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	portOnce  sync.Once
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Dial opens the transport selected by cfg and starts a client on it. A nil
// cfg uses DefaultConfig. ctx bounds the lifetime of the client, cancelling
// it closes the connection.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	port, err := NewTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, port, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return c, nil
}

// New starts the reader and client goroutines on an open transport and,
// unless cfg.SkipReset is set, soft resets the controller so it prints its
// boot banner. A nil cfg uses DefaultConfig. ctx bounds the lifetime of the
// client, cancelling it closes the connection.
func New(ctx context.Context, port Transport, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()
	c := &Client{
		cfg:      cfg,
		port:     port,
		log:      logger.WithField("component", "client"),
		inbox:    make(chan message, 256),
		loopDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.h = newHandler(c.log)
	c.w = &lockedWriter{w: port, count: &c.stats.sentBytes}
	c.engine = NewEngine(c.w, EngineConfig{
		Capacity:      cfg.RXBufferSize,
		Banner:        cfg.Banner,
		AbortOnAlarm:  cfg.AbortOnAlarm,
		Incremental:   cfg.Incremental,
		SegmentLength: cfg.SegmentLength,
		Log:           logger.WithField("component", "engine"),
		OnBoot:        c.onBoot,
	}, c.emit)
	c.engine.stats = &c.stats

	c.ctx, c.cancel = context.WithCancel(ctx)
	var gctx context.Context
	c.group, gctx = errgroup.WithContext(c.ctx)
	c.group.Go(func() error {
		defer close(c.loopDone)
		return c.loop(gctx)
	})
	c.group.Go(func() error {
		return c.readLoop(gctx)
	})
	c.group.Go(func() error {
		<-gctx.Done()
		c.closePort()
		return nil
	})
	go c.wait()

	if !cfg.SkipReset {
		if err := c.SoftReset(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.inbox:
			switch {
			case m.stop:
				return nil
			case m.req != nil:
				err := m.req(c.engine)
				m.resp <- err
				if err != nil && !IsRecoverable(err) {
					return err
				}
			default:
				if err := c.engine.HandleLine(m.line); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Client) wait() {
	err := c.group.Wait()
	c.stopPoller()
	c.booted.Store(false)
	if err != nil {
		c.log.Errorf("connection lost: %v", err)
	}
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.emit(DisconnectedEvent{Err: err})
	c.h.Close()
	close(c.done)
}

func (c *Client) closePort() {
	c.portOnce.Do(func() {
		if err := c.port.Close(); err != nil {
			c.log.Warnf("close transport: %v", err)
		}
	})
}

// Close stops the poller, lets the client goroutine finish the lines
// already received, closes the transport and waits for the reader.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stopping.Store(true)
		c.stopPoller()
		select {
		case c.inbox <- message{stop: true}:
		case <-c.loopDone:
		}
		<-c.loopDone
		c.closePort()
		c.cancel()
		<-c.done
	})
	return c.Err()
}

// Done is closed when the client has shut down, after Close or a
// transport fault.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the transport fault that ended the client, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) emit(e Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(e)
	}
	c.h.deliver(e)
}

func (c *Client) onBoot() {
	c.booted.Store(true)
	c.startPoller()
	if c.cfg.OnBoot != nil {
		go c.cfg.OnBoot(c)
	}
}

// do runs fn on the client goroutine and waits for its result.
func (c *Client) do(fn func(*Engine) error) error {
	resp := make(chan error, 1)
	select {
	case c.inbox <- message{req: fn, resp: resp}:
	case <-c.loopDone:
		return ErrClosed
	}
	select {
	case err := <-resp:
		return err
	case <-c.loopDone:
		select {
		case err := <-resp:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Client) realtime(b byte) error {
	if c.stopping.Load() {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_, err := c.w.Write([]byte{b})
	return err
}

// Connected reports if the controller has booted on this connection.
func (c *Client) Connected() bool { return c.booted.Load() }

// Subscribe returns a subscriber receiving the given event types, all
// events if none are given.
func (c *Client) Subscribe(types ...EventType) *Subscriber {
	sub := &Subscriber{
		h:         c.h,
		types:     make(map[EventType]struct{}, len(types)),
		eventChan: make(chan Event, 1024),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	c.h.registerSubscriber(sub)
	return sub
}

func (c *Client) Stats() Stats {
	s := c.stats.snapshot()
	s.DroppedEvents = c.h.dropped.Load()
	return s
}

func (c *Client) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func(e *Engine) error {
		s = e.Snapshot()
		return nil
	})
	return s, err
}

// Load replaces the job buffer.
func (c *Client) Load(lines []string) error {
	return c.do(func(e *Engine) error { return e.Load(lines) })
}

func (c *Client) LoadFile(filename string) error {
	lines, err := readLines(filename)
	if err != nil {
		return err
	}
	return c.Load(lines)
}

// Write appends lines to the job buffer and streams them.
func (c *Client) Write(text string) error {
	return c.do(func(e *Engine) error { return e.Write(text) })
}

// Command sends lines ahead of the job buffer.
func (c *Client) Command(text string) error {
	return c.do(func(e *Engine) error { return e.Command(text) })
}

func (c *Client) StreamStart(from int) error {
	return c.do(func(e *Engine) error { return e.StreamStart(from) })
}

func (c *Client) StreamStop() error {
	return c.do(func(e *Engine) error { return e.StreamStop() })
}

func (c *Client) StreamClear() error {
	return c.do(func(e *Engine) error { return e.StreamClear() })
}

func (c *Client) JobNew() error {
	return c.do(func(e *Engine) error { return e.JobNew() })
}

func (c *Client) UploadSettings(lines []string) error {
	return c.do(func(e *Engine) error { return e.UploadSettings(lines) })
}

func (c *Client) QuerySettings() error    { return c.Command("$$") }
func (c *Client) QueryParserState() error { return c.Command("$G") }
func (c *Client) QueryHashState() error   { return c.Command("$#") }

func (c *Client) Home() error {
	return c.do(func(e *Engine) error { return e.Home() })
}

func (c *Client) KillAlarm() error {
	return c.do(func(e *Engine) error { return e.KillAlarm() })
}

// Abort flushes the job and soft resets the controller, which discards
// whatever it still has buffered.
func (c *Client) Abort() error {
	if err := c.do(func(e *Engine) error {
		e.Abort()
		return nil
	}); err != nil {
		return err
	}
	return c.SoftReset()
}

func (c *Client) SetIncremental(v bool) error {
	return c.do(func(e *Engine) error { return e.SetIncremental(v) })
}

func (c *Client) SetFeedOverride(v bool) error {
	return c.do(func(e *Engine) error {
		e.SetFeedOverride(v)
		return nil
	})
}

func (c *Client) RequestFeed(feed float64) error {
	if feed < 0 {
		return fmt.Errorf("invalid feed %g", feed)
	}
	return c.do(func(e *Engine) error {
		e.RequestFeed(feed)
		return nil
	})
}

func (c *Client) SetSegmentLength(l float64) error {
	if l < 0 {
		return fmt.Errorf("invalid segment length %g", l)
	}
	return c.do(func(e *Engine) error {
		e.SetSegmentLength(l)
		return nil
	})
}

// Hold requests a feed hold.
func (c *Client) Hold() error { return c.realtime('!') }

// Resume continues after a feed hold.
func (c *Client) Resume() error { return c.realtime('~') }

// SoftReset resets the controller. Its boot banner resets the stream.
func (c *Client) SoftReset() error { return c.realtime(0x18) }

func readLines(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	return lines, nil
}
