package gocnc

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const banner = "Grbl 1.1h ['$' for help]"

// wire records the lines the engine writes.
type wire struct {
	lines []string
}

func (w *wire) Write(p []byte) (int, error) {
	for _, l := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		w.lines = append(w.lines, l)
	}
	return len(p), nil
}

type sink struct {
	events []Event
}

func (s *sink) add(e Event) { s.events = append(s.events, e) }

func (s *sink) of(t EventType) []Event {
	var out []Event
	for _, e := range s.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *wire, *sink) {
	t.Helper()
	w, s := &wire{}, &sink{}
	e := NewEngine(w, cfg, s.add)
	require.NoError(t, e.HandleLine(banner))
	return e, w, s
}

func ok(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.HandleLine("ok"))
	}
}

func fortyByteLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("G1X%036d", i+1)
	}
	return lines
}

func TestBulkFillDefersWhenFull(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{Capacity: 128})
	lines := fortyByteLines(4)
	require.NoError(t, e.Load(lines))
	require.NoError(t, e.StreamStart(0))

	assert.Equal(t, lines[:3], w.lines)
	assert.Equal(t, 120, e.RXUsed())
	require.NotNil(t, e.Snapshot().Pending)
	assert.Equal(t, 3, e.Snapshot().Pending.Line)

	ok(t, e, 1)
	assert.Equal(t, lines, w.lines)
	assert.Equal(t, 120, e.RXUsed())
}

func TestIncrementalOneInFlight(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{Capacity: 128, Incremental: true})
	require.NoError(t, e.Load([]string{"G0X1", "G0X2", "G0X3"}))
	require.NoError(t, e.StreamStart(0))
	assert.Equal(t, []string{"G0X1"}, w.lines)
	ok(t, e, 1)
	assert.Equal(t, []string{"G0X1", "G0X2"}, w.lines)
	ok(t, e, 2)
	assert.Equal(t, []string{"G0X1", "G0X2", "G0X3"}, w.lines)
	assert.Equal(t, StateComplete, e.State())
}

func TestAcknowledgeFIFO(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Write("G0X1\nG0X2\n; comment\nG0X3"))
	ok(t, e, 3)

	sent := s.of(EventTypeSendCommand)
	done := s.of(EventTypeProcessedCommand)
	require.Len(t, sent, 3)
	require.Len(t, done, 3)
	for i := range sent {
		assert.Equal(t, sent[i].(SendCommandEvent).Command, done[i].(ProcessedCommandEvent).Command)
		assert.Equal(t, sent[i].(SendCommandEvent).Line, done[i].(ProcessedCommandEvent).Line)
	}
	assert.Equal(t, 3, done[2].(ProcessedCommandEvent).Line)
}

func TestCompletionWaitsForBacklog(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load([]string{"G0X1", "G0X2"}))
	require.NoError(t, e.StreamStart(0))
	assert.Equal(t, StateDraining, e.State())
	assert.Empty(t, s.of(EventTypeJobCompleted))

	ok(t, e, 1)
	assert.Equal(t, StateDraining, e.State())
	ok(t, e, 1)
	assert.Equal(t, StateComplete, e.State())
	require.Len(t, s.of(EventTypeJobCompleted), 1)
	assert.Equal(t, 2, s.of(EventTypeJobCompleted)[0].(JobCompletedEvent).Lines)

	var states []StreamState
	for _, ev := range s.of(EventTypeStreamState) {
		states = append(states, ev.(StreamStateEvent).State)
	}
	assert.Equal(t, []StreamState{StateStreaming, StateSourceExhausted, StateDraining, StateComplete}, states)
}

func TestErrorAttribution(t *testing.T) {
	e, w, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load([]string{"G0X0", "G0Y0", "G0Z0", "G1X10", "G1Y10", "G1Z10"}))
	require.NoError(t, e.StreamStart(0))
	ok(t, e, 3)
	w.lines = nil

	require.NoError(t, e.HandleLine("error:9"))
	errs := s.of(EventTypeError)
	require.Len(t, errs, 1)
	ev := errs[0].(ErrorEvent)
	assert.Equal(t, 9, ev.Err.Code)
	assert.Equal(t, 3, ev.Err.Line)
	assert.Equal(t, "G1X10", ev.Err.Command)
	assert.False(t, ev.Secondary)
	assert.Contains(t, ev.Err.Message, "alarm")

	// halted, further acks do not send
	ok(t, e, 1)
	require.NoError(t, e.HandleLine("error:20"))
	assert.Empty(t, w.lines)
	errs = s.of(EventTypeError)
	require.Len(t, errs, 2)
	assert.True(t, errs[1].(ErrorEvent).Secondary)
	assert.Equal(t, 5, errs[1].(ErrorEvent).Err.Line)
	assert.Len(t, e.Snapshot().Errors, 2)

	assert.ErrorIs(t, e.Command("G0X0"), ErrHalted)
	e.Abort()
	snap := e.Snapshot()
	assert.False(t, snap.Errored)
	assert.Equal(t, 0, snap.Lines)
	assert.Equal(t, StateIdle, snap.State)
	require.NoError(t, e.Command("G0X0"))
	assert.Equal(t, []string{"G0X0"}, w.lines)
}

func TestTextualError(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Command("G1X"))
	require.NoError(t, e.HandleLine("error: Bad number format"))
	ev := s.of(EventTypeError)[0].(ErrorEvent)
	assert.Equal(t, 0, ev.Err.Code)
	assert.Equal(t, "Bad number format", ev.Err.Message)
	assert.Equal(t, -1, ev.Err.Line)
}

func TestSettingsGatedInBulkMode(t *testing.T) {
	e, w, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Write("$100=5"))
	assert.Empty(t, w.lines)
	var warned bool
	for _, ev := range s.of(EventTypeLog) {
		if ev.(LogEvent).Level == logrus.WarnLevel && strings.Contains(ev.(LogEvent).Message, "$100=5") {
			warned = true
		}
	}
	assert.True(t, warned)
	assert.Equal(t, StateComplete, e.State())
}

func TestUploadSettings(t *testing.T) {
	e, w, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.UploadSettings([]string{"$100=250", "$101=250"}))
	assert.Equal(t, []string{"$100=250"}, w.lines)
	assert.True(t, e.Snapshot().Incremental)
	ok(t, e, 1)
	assert.Equal(t, []string{"$100=250", "$101=250"}, w.lines)
	ok(t, e, 1)
	assert.Equal(t, StateComplete, e.State())
	assert.False(t, e.Snapshot().Incremental)
	assert.Len(t, s.of(EventTypeJobCompleted), 1)

	// gated again once the upload is done
	w.lines = nil
	require.NoError(t, e.Command("$100=1"))
	assert.Empty(t, w.lines)
}

func TestUploadSettingsRejectedMidJob(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load(fortyByteLines(5)))
	require.NoError(t, e.StreamStart(0))
	assert.ErrorIs(t, e.UploadSettings([]string{"$1=25"}), ErrJobActive)
	assert.ErrorIs(t, e.Load(nil), ErrJobActive)
	assert.ErrorIs(t, e.StreamStart(0), ErrJobActive)
}

func TestAlarm(t *testing.T) {
	e, w, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load([]string{"G0X1", "G0X2"}))
	require.NoError(t, e.StreamStart(0))
	require.NoError(t, e.HandleLine("ALARM:1"))

	alarms := s.of(EventTypeAlarm)
	require.Len(t, alarms, 1)
	assert.Equal(t, 1, alarms[0].(AlarmEvent).Alarm.Code)
	assert.True(t, e.Snapshot().Alarmed)
	assert.ErrorIs(t, e.Write("G0X3"), ErrHalted)

	w.lines = nil
	require.NoError(t, e.KillAlarm())
	assert.Equal(t, []string{"$X"}, w.lines)
	assert.False(t, e.Snapshot().Alarmed)
	assert.Equal(t, 3, e.RXUsed())
}

func TestAbortOnAlarm(t *testing.T) {
	e, _, _ := newTestEngine(t, EngineConfig{AbortOnAlarm: true})
	require.NoError(t, e.Load([]string{"G0X1", "G0X2"}))
	require.NoError(t, e.StreamStart(0))
	require.NoError(t, e.HandleLine("ALARM:2"))
	snap := e.Snapshot()
	assert.True(t, snap.Alarmed)
	assert.Equal(t, 0, snap.RXUsed)
	assert.Equal(t, 0, snap.Lines)
	assert.Equal(t, StateIdle, snap.State)
}

func TestLockMessageHalts(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.HandleLine("[MSG:'$H'|'$X' to unlock]"))
	assert.True(t, e.Snapshot().Alarmed)
	require.NoError(t, e.Home())
	assert.Equal(t, []string{"$H"}, w.lines)
}

func TestBootResetsLedger(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load(fortyByteLines(5)))
	require.NoError(t, e.StreamStart(0))
	assert.Equal(t, 120, e.RXUsed())

	require.NoError(t, e.HandleLine(banner))
	snap := e.Snapshot()
	assert.Equal(t, 0, snap.RXUsed)
	assert.Empty(t, snap.Backlog)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 5, snap.Lines)
	assert.Len(t, s.of(EventTypeBoot), 2)
}

func TestNotConnected(t *testing.T) {
	w, s := &wire{}, &sink{}
	e := NewEngine(w, EngineConfig{}, s.add)
	assert.ErrorIs(t, e.Command("G0X1"), ErrNotConnected)
	assert.ErrorIs(t, e.Write("G0X1"), ErrNotConnected)
	assert.Empty(t, w.lines)
	assert.Len(t, s.of(EventTypeLog), 2)
}

func TestUnexpectedOk(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.HandleLine("ok"))
	assert.Equal(t, 0, e.RXUsed())
	logs := s.of(EventTypeLog)
	assert.Equal(t, logrus.WarnLevel, logs[len(logs)-1].(LogEvent).Level)
}

func TestLineTooLong(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{Capacity: 16})
	require.NoError(t, e.Write("G1X1234567890123456"))
	assert.Empty(t, w.lines)
	assert.True(t, e.Snapshot().Errored)
}

func TestSettingsAndHashDump(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Command("$$"))
	for _, l := range []string{"$0=10", "$1=25", "$100=250.000 (x, step/mm)"} {
		require.NoError(t, e.HandleLine(l))
	}
	assert.Empty(t, s.of(EventTypeSettingsDownloaded))
	ok(t, e, 1)
	got := s.of(EventTypeSettingsDownloaded)
	require.Len(t, got, 1)
	settings := got[0].(SettingsEvent).Settings
	require.Len(t, settings, 3)
	assert.Equal(t, "$100", settings[2].Key)

	require.NoError(t, e.Command("$#"))
	require.NoError(t, e.HandleLine("[G54:1.000,2.000,3.000]"))
	require.NoError(t, e.HandleLine("[TLO:0.000]"))
	assert.Empty(t, s.of(EventTypeHashStateUpdate))
	ok(t, e, 1)
	hs := s.of(EventTypeHashStateUpdate)
	require.Len(t, hs, 1)
	assert.Equal(t, 2.0, hs[0].(HashStateEvent).Offsets["G54"].Position.Y)

	// PRB results outside a dump are reported right away
	require.NoError(t, e.HandleLine("[PRB:0.000,0.000,-1.000:1]"))
	assert.Len(t, s.of(EventTypeHashStateUpdate), 2)
}

func TestStatusAndParserState(t *testing.T) {
	e, _, s := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.HandleLine("<Run|MPos:1.000,2.000,3.000|FS:500,0>"))
	require.NoError(t, e.HandleLine("<garbage"))
	require.NoError(t, e.HandleLine("[GC:G1 G54 G17 G21 G90 G94 M5 M9 T0 F500 S0]"))
	st := s.of(EventTypeStateUpdate)
	require.Len(t, st, 1)
	assert.Equal(t, "Run", st[0].(StateUpdateEvent).Status.State)
	ps := s.of(EventTypeParserStateUpdate)
	require.Len(t, ps, 1)
	assert.Equal(t, "G1", ps[0].(ParserStateEvent).State.Motion)
	assert.Equal(t, "Run", e.Snapshot().Status.State)
}

func TestFeedOverrideEvents(t *testing.T) {
	e, w, s := newTestEngine(t, EngineConfig{})
	e.SetFeedOverride(true)
	e.RequestFeed(500)
	require.NoError(t, e.Write("G1X10F250\nG1X10F250"))
	assert.Equal(t, []string{"G1X10F500", "G1X10"}, w.lines)
	feeds := s.of(EventTypeFeedChange)
	require.Len(t, feeds, 1)
	assert.Equal(t, 500.0, feeds[0].(FeedChangeEvent).Feed)
}

func TestFractionizedJob(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{SegmentLength: 1})
	require.NoError(t, e.Load([]string{"G0X0Y0Z0", "G1X3F100", "G0X0"}))
	require.NoError(t, e.StreamStart(0))
	assert.Equal(t, []string{"G0X0Y0Z0", "G1X1F100", "G1X2", "G1X3", "G0X0"}, w.lines)
	ok(t, e, 5)
	assert.Equal(t, StateComplete, e.State())
}

func TestStreamStopAndResume(t *testing.T) {
	e, w, _ := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Load(fortyByteLines(5)))
	require.NoError(t, e.StreamStart(0))
	require.NoError(t, e.StreamStop())
	ok(t, e, 3)
	assert.Len(t, w.lines, 3)
	assert.Equal(t, StateIdle, e.State())

	assert.ErrorIs(t, e.StreamStart(9), ErrLineOutOfRange)
	require.NoError(t, e.StreamStart(e.Snapshot().Cursor))
	assert.Len(t, w.lines, 5)
	ok(t, e, 2)
	assert.Equal(t, StateComplete, e.State())
}

// TestLedgerNeverExceedsCapacity drives the engine with random line lengths and
// acknowledgments and checks the buffer accounting after every step.
func TestLedgerNeverExceedsCapacity(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, incremental := range []bool{false, true} {
		e, w, s := newTestEngine(t, EngineConfig{Capacity: 128, Incremental: incremental})
		lines := make([]string, 300)
		for i := range lines {
			lines[i] = "G1X" + strings.Repeat("1", r.Intn(100))
		}
		require.NoError(t, e.Load(lines))
		require.NoError(t, e.StreamStart(0))
		for steps := 0; e.State() != StateComplete; steps++ {
			require.Less(t, steps, 10000)
			snap := e.Snapshot()
			require.LessOrEqual(t, snap.RXUsed, 128)
			require.Equal(t, len(snap.Backlog), len(e.ledger))
			if incremental {
				require.LessOrEqual(t, len(snap.Backlog), 1)
			}
			require.NotEmpty(t, snap.Backlog)
			ok(t, e, 1)
		}
		assert.Len(t, w.lines, len(lines))
		assert.Len(t, s.of(EventTypeProcessedCommand), len(lines))
	}
}
