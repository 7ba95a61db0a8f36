package gocnc

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roffe/gocnc/pkg/preprocess"
	"github.com/roffe/gocnc/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

type StreamState int

const (
	StateIdle StreamState = iota
	StateStreaming
	StateSourceExhausted
	StateDraining
	StateComplete
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateSourceExhausted:
		return "source exhausted"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// SentLine is a line written to the controller and not yet acknowledged.
// Line is the job buffer index, -1 for immediate commands.
type SentLine struct {
	Line    int
	Command string
}

type EngineConfig struct {
	Capacity      int
	Banner        string
	AbortOnAlarm  bool
	Incremental   bool
	SegmentLength float64
	Log           *logrus.Entry
	// OnBoot runs on the engine goroutine after the boot banner was handled.
	OnBoot func()
}

// Engine is the streaming state machine. It is not safe for concurrent
// use, the Client owns it from a single goroutine.
type Engine struct {
	cfg   EngineConfig
	w     io.Writer
	emit  func(Event)
	log   *logrus.Entry
	pp    *preprocess.Preprocessor
	stats *counters

	connected   bool
	state       StreamState
	errored     bool
	alarmed     bool
	errs        []*FirmwareError
	alarm       *AlarmError
	incremental bool
	uploading   bool
	prevIncr    bool

	buffer  []string
	cursor  int
	started time.Time

	commands []string
	segments []string
	segLine  int
	pending  *SentLine

	ledger  []int
	backlog []SentLine

	status      telemetry.Status
	parserState telemetry.ParserState
	settings    []telemetry.Setting
	settingsAcc []telemetry.Setting
	offsets     map[string]telemetry.Offset
}

func NewEngine(w io.Writer, cfg EngineConfig, emit func(Event)) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultRXBufferSize
	}
	if cfg.Banner == "" {
		cfg.Banner = DefaultBanner
	}
	if cfg.Log == nil {
		cfg.Log = logrus.WithField("component", "engine")
	}
	if emit == nil {
		emit = func(Event) {}
	}
	e := &Engine{
		cfg:     cfg,
		w:       w,
		emit:    emit,
		log:     cfg.Log,
		pp:      preprocess.New(),
		stats:   &counters{},
		offsets: make(map[string]telemetry.Offset),
	}
	e.pp.OnFeedChange = func(f float64) { e.emit(FeedChangeEvent{Feed: f}) }
	e.pp.OnDistanceMode = func(l, a preprocess.DistanceMode) { e.emit(DistanceModeEvent{Linear: l, Arc: a}) }
	e.pp.OnLog = e.emitLog
	e.pp.SetSegmentLength(cfg.SegmentLength)
	e.setIncremental(cfg.Incremental)
	return e
}

func (e *Engine) State() StreamState { return e.state }

// RXUsed is the number of bytes the controller has not yet acknowledged.
func (e *Engine) RXUsed() int {
	var used int
	for _, n := range e.ledger {
		used += n
	}
	return used
}

func (e *Engine) free() int { return e.cfg.Capacity - e.RXUsed() }

func (e *Engine) halted() bool { return e.errored || e.alarmed }

func (e *Engine) active() bool {
	switch e.state {
	case StateStreaming, StateSourceExhausted, StateDraining:
		return true
	}
	return false
}

func (e *Engine) setState(s StreamState) {
	if e.state == s {
		return
	}
	e.state = s
	e.emit(StreamStateEvent{State: s})
}

func (e *Engine) setIncremental(v bool) {
	e.incremental = v
	e.pp.AllowSettings(v)
}

func (e *Engine) emitLog(level logrus.Level, msg string) {
	e.log.Log(level, msg)
	e.emit(LogEvent{Level: level, Message: msg})
}

// fault reports a usage error both as a log event and to the caller.
func (e *Engine) fault(err error) error {
	e.emitLog(logrus.WarnLevel, err.Error())
	return err
}

// fetch makes the next line to send pending. Fractionized segments go
// first, then immediate commands, then job lines while streaming.
func (e *Engine) fetch() bool {
	for e.pending == nil {
		switch {
		case len(e.segments) > 0:
			e.pending = &SentLine{Line: e.segLine, Command: e.segments[0]}
			e.segments = e.segments[1:]
		case len(e.commands) > 0:
			raw := e.commands[0]
			e.commands = e.commands[1:]
			if text := e.pp.Process(raw); text != "" {
				e.pending = &SentLine{Line: -1, Command: text}
			}
		case e.state != StateStreaming:
			return false
		case e.cursor >= len(e.buffer):
			e.sourceExhausted()
			return false
		default:
			text := e.pp.Process(e.buffer[e.cursor])
			if text == "" {
				e.cursor++
				continue
			}
			segs := e.pp.Segments(text)
			e.pending = &SentLine{Line: e.cursor, Command: segs[0]}
			e.segments, e.segLine = segs[1:], e.cursor
		}
	}
	return true
}

// MaybeSendNext sends the pending line if the controller has room for it.
// In incremental mode a line is only sent when nothing is in flight.
func (e *Engine) MaybeSendNext() (bool, error) {
	if !e.connected || e.halted() {
		return false, nil
	}
	if e.pending == nil && !e.fetch() {
		return false, nil
	}
	p := e.pending
	required := len(p.Command) + 1
	if required > e.cfg.Capacity {
		e.pending = nil
		e.errored = true
		e.emitLog(logrus.ErrorLevel, fmt.Sprintf("%v: line %d %q is %d bytes", ErrLineTooLong, p.Line, p.Command, required))
		return false, nil
	}
	if e.incremental && len(e.ledger) > 0 {
		return false, nil
	}
	if required > e.free() {
		return false, nil
	}

	e.ledger = append(e.ledger, required)
	e.backlog = append(e.backlog, *p)
	e.pending = nil
	if p.Line >= 0 && len(e.segments) == 0 {
		e.cursor = p.Line + 1
	}
	e.log.Debugf(">> %s", p.Command)
	if _, err := io.WriteString(e.w, p.Command+"\n"); err != nil {
		if IsRecoverable(err) {
			err = Unrecoverable(err)
		}
		return false, fmt.Errorf("send %q: %w", p.Command, err)
	}
	e.stats.sentLines.Add(1)
	e.emit(SendCommandEvent{Line: p.Line, Command: p.Command})
	if p.Line >= 0 {
		e.emit(ProgressEvent{Line: e.cursor, Total: len(e.buffer)})
	}
	return true, nil
}

// FillToCapacity sends lines until the controller buffer is full, the
// source is empty or sending is suspended.
func (e *Engine) FillToCapacity() error {
	for {
		sent, err := e.MaybeSendNext()
		if err != nil {
			return err
		}
		if !sent {
			return nil
		}
	}
}

func (e *Engine) sourceExhausted() {
	if e.state != StateStreaming {
		return
	}
	e.setState(StateSourceExhausted)
	e.checkComplete()
}

func (e *Engine) checkComplete() {
	if e.state != StateSourceExhausted && e.state != StateDraining || e.halted() {
		return
	}
	if len(e.backlog) > 0 || e.pending != nil || len(e.segments) > 0 {
		e.setState(StateDraining)
		return
	}
	e.setState(StateComplete)
	e.emit(JobCompletedEvent{Lines: len(e.buffer), Elapsed: time.Since(e.started)})
	if e.uploading {
		e.uploading = false
		e.setIncremental(e.prevIncr)
	}
}

func (e *Engine) dropPendingJob() {
	if e.pending != nil && e.pending.Line >= 0 {
		e.pending = nil
	}
	e.segments = nil
}

// resetStream forgets everything in flight and clears the halt flags.
func (e *Engine) resetStream() {
	e.ledger = e.ledger[:0]
	e.backlog = e.backlog[:0]
	e.pending = nil
	e.segments = nil
	e.commands = nil
	e.errored, e.alarmed = false, false
	e.errs, e.alarm = nil, nil
	e.settingsAcc = nil
	if e.uploading {
		e.uploading = false
		e.setIncremental(e.prevIncr)
	}
	e.setState(StateIdle)
}

func splitLines(text string) []string {
	return strings.Split(strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n"), "\n")
}

// Load replaces the job buffer. The job starts with StreamStart.
func (e *Engine) Load(lines []string) error {
	if e.active() {
		return e.fault(ErrJobActive)
	}
	e.buffer = append([]string(nil), lines...)
	e.cursor = 0
	e.dropPendingJob()
	e.setState(StateIdle)
	e.emitLog(logrus.InfoLevel, fmt.Sprintf("loaded %d lines", len(e.buffer)))
	return nil
}

// Write appends text to the job buffer and streams it. When no job is
// running streaming starts at the first appended line.
func (e *Engine) Write(text string) error {
	if !e.connected {
		return e.fault(ErrNotConnected)
	}
	if e.halted() {
		return e.fault(ErrHalted)
	}
	start := len(e.buffer)
	e.buffer = append(e.buffer, splitLines(text)...)
	switch e.state {
	case StateStreaming:
	case StateSourceExhausted, StateDraining:
		e.setState(StateStreaming)
	default:
		e.dropPendingJob()
		e.cursor = start
		e.started = time.Now()
		e.setState(StateStreaming)
	}
	return e.FillToCapacity()
}

// Command queues lines that are sent ahead of the job buffer.
func (e *Engine) Command(text string) error {
	if !e.connected {
		return e.fault(ErrNotConnected)
	}
	if e.halted() {
		return e.fault(ErrHalted)
	}
	e.commands = append(e.commands, splitLines(text)...)
	return e.FillToCapacity()
}

func (e *Engine) StreamStart(from int) error {
	if !e.connected {
		return e.fault(ErrNotConnected)
	}
	if e.halted() {
		return e.fault(ErrHalted)
	}
	if e.active() {
		return e.fault(ErrJobActive)
	}
	if from < 0 || from > len(e.buffer) {
		return e.fault(fmt.Errorf("%w: %d of %d", ErrLineOutOfRange, from, len(e.buffer)))
	}
	e.dropPendingJob()
	e.cursor = from
	e.started = time.Now()
	e.setState(StateStreaming)
	return e.FillToCapacity()
}

// StreamStop stops sending job lines. Lines in flight are still
// acknowledged and the job can be resumed with StreamStart.
func (e *Engine) StreamStop() error {
	if !e.active() {
		return nil
	}
	e.dropPendingJob()
	e.setState(StateIdle)
	return nil
}

func (e *Engine) StreamClear() error {
	if e.active() {
		return e.fault(ErrJobActive)
	}
	e.buffer = nil
	e.cursor = 0
	e.dropPendingJob()
	e.setState(StateIdle)
	return nil
}

// JobNew clears the job buffer and the modal context of the previous job.
func (e *Engine) JobNew() error {
	if err := e.StreamClear(); err != nil {
		return err
	}
	e.pp.Reset()
	return nil
}

// UploadSettings streams $n=v lines one at a time and restores the send
// policy once they are all acknowledged. The job buffer is replaced.
func (e *Engine) UploadSettings(lines []string) error {
	if !e.connected {
		return e.fault(ErrNotConnected)
	}
	if e.halted() {
		return e.fault(ErrHalted)
	}
	if e.active() {
		return e.fault(ErrJobActive)
	}
	if !e.uploading {
		e.prevIncr = e.incremental
	}
	e.uploading = true
	e.setIncremental(true)
	e.buffer = append([]string(nil), lines...)
	e.cursor = 0
	e.dropPendingJob()
	e.started = time.Now()
	e.setState(StateStreaming)
	return e.FillToCapacity()
}

func (e *Engine) SetIncremental(v bool) error {
	if e.uploading {
		return e.fault(ErrJobActive)
	}
	e.setIncremental(v)
	return e.FillToCapacity()
}

func (e *Engine) SetFeedOverride(v bool)     { e.pp.SetFeedOverride(v) }
func (e *Engine) RequestFeed(feed float64)   { e.pp.RequestFeed(feed) }
func (e *Engine) SetSegmentLength(l float64) { e.pp.SetSegmentLength(l) }

// Abort flushes the job and everything in flight and clears the halt
// flags. The caller is expected to soft reset the controller.
func (e *Engine) Abort() {
	e.buffer = nil
	e.cursor = 0
	e.resetStream()
	e.pp.Reset()
	e.emitLog(logrus.InfoLevel, "stream aborted")
}

// KillAlarm flushes like Abort and sends $X.
func (e *Engine) KillAlarm() error {
	e.Abort()
	return e.Command("$X")
}

// Home sends $H, clearing a pending alarm lock first.
func (e *Engine) Home() error {
	if e.alarmed {
		e.resetStream()
	}
	return e.Command("$H")
}

type Snapshot struct {
	Connected   bool
	State       StreamState
	Errored     bool
	Alarmed     bool
	Errors      []*FirmwareError
	Alarm       *AlarmError
	Incremental bool

	Cursor   int
	Lines    int
	RXUsed   int
	Capacity int
	Backlog  []SentLine
	Pending  *SentLine

	Feed        float64
	Status      telemetry.Status
	ParserState telemetry.ParserState
	Settings    []telemetry.Setting
	Offsets     map[string]telemetry.Offset
}

func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Connected:   e.connected,
		State:       e.state,
		Errored:     e.errored,
		Alarmed:     e.alarmed,
		Errors:      append([]*FirmwareError(nil), e.errs...),
		Alarm:       e.alarm,
		Incremental: e.incremental,
		Cursor:      e.cursor,
		Lines:       len(e.buffer),
		RXUsed:      e.RXUsed(),
		Capacity:    e.cfg.Capacity,
		Backlog:     append([]SentLine(nil), e.backlog...),
		Feed:        e.pp.Feed(),
		Status:      e.status,
		ParserState: e.parserState,
		Settings:    append([]telemetry.Setting(nil), e.settings...),
		Offsets:     make(map[string]telemetry.Offset, len(e.offsets)),
	}
	if e.pending != nil {
		p := *e.pending
		s.Pending = &p
	}
	for k, v := range e.offsets {
		s.Offsets[k] = v
	}
	return s
}
