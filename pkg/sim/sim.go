// Package sim is a simulated motion controller speaking the same line
// protocol as the real firmware. It models the serial receive buffer so
// flow control can be verified without hardware.
package sim

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/256dpi/gcode"
	"github.com/roffe/gocnc"
)

const Banner = "Grbl 1.1h ['$' for help]"

func init() {
	if err := gocnc.RegisterTransport(&gocnc.TransportInfo{
		Name:        "sim",
		Description: "simulated controller",
		New: func(_ context.Context, cfg *gocnc.Config) (gocnc.Transport, error) {
			return New(WithRXBuffer(cfg.RXBufferSize)), nil
		},
	}); err != nil {
		panic(err)
	}
}

type Option func(*Firmware)

func WithRXBuffer(n int) Option {
	return func(f *Firmware) {
		if n > 0 {
			f.capacity = n
		}
	}
}

func WithBanner(b string) Option {
	return func(f *Firmware) { f.banner = b }
}

// Firmware implements io.ReadWriteCloser. It stays silent until it
// receives a soft reset (0x18), like a board without auto reset.
type Firmware struct {
	mu   sync.Mutex
	cond *sync.Cond

	out     chan []byte
	rbuf    []byte
	closeCh chan struct{}
	closed  bool

	banner   string
	capacity int
	rxUsed   int
	rxMax    int
	overflow bool
	partial  []byte
	lines    []string
	received []string

	paused bool
	hold   bool
	locked bool

	incremental bool
	feed        float64
	pos         [3]float64
	offsets     map[string][3]float64
	settings    map[int]string
	failOn      map[string]int
}

func New(opts ...Option) *Firmware {
	f := &Firmware{
		out:      make(chan []byte, 8192),
		closeCh:  make(chan struct{}),
		banner:   Banner,
		capacity: 128,
		offsets: map[string][3]float64{
			"G54": {}, "G55": {}, "G56": {}, "G57": {}, "G58": {}, "G59": {},
			"G28": {}, "G30": {}, "G92": {},
		},
		settings: defaultSettings(),
		failOn:   make(map[string]int),
	}
	f.cond = sync.NewCond(&f.mu)
	for _, o := range opts {
		o(f)
	}
	go f.run()
	return f
}

func defaultSettings() map[int]string {
	return map[int]string{
		0: "10", 1: "25", 2: "0", 3: "0", 4: "0", 5: "0", 6: "0",
		10: "1", 11: "0.010", 12: "0.002", 13: "0",
		20: "0", 21: "0", 22: "0", 23: "0", 24: "25.000", 25: "500.000", 26: "250", 27: "1.000",
		30: "1000", 31: "0", 32: "0",
		100: "250.000", 101: "250.000", 102: "250.000",
		110: "500.000", 111: "500.000", 112: "500.000",
		120: "10.000", 121: "10.000", 122: "10.000",
		130: "200.000", 131: "200.000", 132: "200.000",
	}
}

func (f *Firmware) Read(p []byte) (int, error) {
	if len(f.rbuf) == 0 {
		select {
		case b := <-f.out:
			f.rbuf = b
		case <-f.closeCh:
			return 0, io.EOF
		}
	}
	n := copy(p, f.rbuf)
	f.rbuf = f.rbuf[n:]
	return n, nil
}

func (f *Firmware) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	for _, b := range p {
		switch b {
		case '?':
			f.reply(f.status())
		case '!':
			f.hold = true
		case '~':
			f.hold = false
			f.cond.Broadcast()
		case 0x18:
			f.reset()
		case '\r':
		default:
			f.rxUsed++
			if f.rxUsed > f.rxMax {
				f.rxMax = f.rxUsed
			}
			if f.rxUsed > f.capacity {
				f.overflow = true
			}
			if b != '\n' {
				f.partial = append(f.partial, b)
				continue
			}
			f.lines = append(f.lines, string(f.partial))
			f.partial = nil
			f.cond.Broadcast()
		}
	}
	return len(p), nil
}

func (f *Firmware) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.closeCh)
	f.cond.Broadcast()
	return nil
}

// reply queues a line for the host. Must be called with f.mu held.
func (f *Firmware) reply(lines ...string) {
	for _, l := range lines {
		select {
		case f.out <- []byte(l + "\r\n"):
		case <-f.closeCh:
			return
		}
	}
}

func (f *Firmware) reset() {
	f.lines = nil
	f.partial = nil
	f.rxUsed = 0
	f.hold = false
	f.incremental = false
	f.reply("", f.banner)
	if f.locked {
		f.reply("[MSG:'$H'|'$X' to unlock]")
	}
}

func (f *Firmware) run() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		for !f.closed && (len(f.lines) == 0 || f.paused || f.hold) {
			f.cond.Wait()
		}
		if f.closed {
			return
		}
		line := f.lines[0]
		f.lines = f.lines[1:]
		f.rxUsed -= len(line) + 1
		f.received = append(f.received, line)
		f.reply(f.execute(strings.TrimSpace(line))...)
	}
}

var settingRe = regexp.MustCompile(`^\$(\d+)=(.*)$`)

func (f *Firmware) execute(line string) []string {
	switch {
	case line == "":
		return []string{"ok"}
	case line == "$$":
		return append(f.settingLines(), "ok")
	case line == "$#":
		return append(f.offsetLines(), "ok")
	case line == "$G":
		return []string{f.parserState(), "ok"}
	case line == "$I":
		return []string{"[VER:1.1h.sim:]", "[OPT:V,15,128]", "ok"}
	case line == "$X":
		f.locked = false
		return []string{"[MSG:Caution: Unlocked]", "ok"}
	case line == "$H":
		f.locked = false
		f.pos = [3]float64{}
		return []string{"ok"}
	case strings.HasPrefix(line, "$J="):
		if f.locked {
			return []string{"error:9"}
		}
		incremental := f.incremental
		err := f.move(line[3:])
		f.incremental = incremental
		if err != nil {
			return []string{"error:16"}
		}
		return []string{"ok"}
	case settingRe.MatchString(line):
		m := settingRe.FindStringSubmatch(line)
		n, _ := strconv.Atoi(m[1])
		if _, ok := f.settings[n]; !ok {
			return []string{"error:3"}
		}
		f.settings[n] = m[2]
		return []string{"ok"}
	case strings.HasPrefix(line, "$"):
		return []string{"error:3"}
	}
	if f.locked {
		return []string{"error:9"}
	}
	if code, ok := f.failOn[line]; ok {
		return []string{fmt.Sprintf("error:%d", code)}
	}
	if err := f.move(line); err != nil {
		return []string{"error:1"}
	}
	return []string{"ok"}
}

func (f *Firmware) move(line string) error {
	gl, err := gcode.ParseLine(spaced(line))
	if err != nil {
		return err
	}
	for _, c := range gl.Codes {
		switch c.Letter {
		case "G":
			switch c.Value {
			case 90:
				f.incremental = false
			case 91:
				f.incremental = true
			}
		case "F":
			f.feed = c.Value
		case "X", "Y", "Z":
			i := strings.Index("XYZ", c.Letter)
			if f.incremental {
				f.pos[i] += c.Value
			} else {
				f.pos[i] = c.Value
			}
		}
	}
	return nil
}

func (f *Firmware) status() string {
	state := "Idle"
	switch {
	case f.locked:
		state = "Alarm"
	case f.hold:
		state = "Hold:0"
	case len(f.lines) > 0:
		state = "Run"
	}
	return fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f|Bf:15,%d|FS:%s,0>",
		state, f.pos[0], f.pos[1], f.pos[2], f.capacity-f.rxUsed, strconv.FormatFloat(f.feed, 'f', -1, 64))
}

func (f *Firmware) parserState() string {
	distance := "G90"
	if f.incremental {
		distance = "G91"
	}
	return fmt.Sprintf("[GC:G0 G54 G17 G21 %s G94 M5 M9 T0 F%s S0]", distance, strconv.FormatFloat(f.feed, 'f', -1, 64))
}

func (f *Firmware) settingLines() []string {
	keys := make([]int, 0, len(f.settings))
	for k := range f.settings {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("$%d=%s", k, f.settings[k]))
	}
	return out
}

func (f *Firmware) offsetLines() []string {
	var out []string
	for _, name := range []string{"G54", "G55", "G56", "G57", "G58", "G59", "G28", "G30", "G92"} {
		o := f.offsets[name]
		out = append(out, fmt.Sprintf("[%s:%.3f,%.3f,%.3f]", name, o[0], o[1], o[2]))
	}
	return append(out, "[TLO:0.000]", "[PRB:0.000,0.000,0.000:0]")
}

func spaced(line string) string {
	line = strings.Join(strings.Fields(line), "")
	var b strings.Builder
	for i, r := range line {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
