package preprocess

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	feeds []float64
	modes [][2]DistanceMode
	logs  []string
}

func newRecorded() (*Preprocessor, *recorder) {
	r := &recorder{}
	p := New()
	p.OnFeedChange = func(f float64) { r.feeds = append(r.feeds, f) }
	p.OnDistanceMode = func(l, a DistanceMode) { r.modes = append(r.modes, [2]DistanceMode{l, a}) }
	p.OnLog = func(level logrus.Level, msg string) { r.logs = append(r.logs, level.String()+": "+msg) }
	return p, r
}

func TestProcessStrip(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" g1 x10 (move to start) ", "G1X10"},
		{"G0 X1 ; rapid", "G0X1"},
		{"; only a comment", ""},
		{"(MSG,hello)", ""},
		{"\tM3  S1000\r", "M3S1000"},
		{"", ""},
		{"$$", "$$"},
		{"$h", "$H"},
		{"$J=G91 X10 F500", "$J=G91X10F500"},
	}
	for _, tt := range tests {
		p, _ := newRecorded()
		assert.Equal(t, tt.want, p.Process(tt.in), "%q", tt.in)
	}
}

func TestProcessSettingsGate(t *testing.T) {
	p, r := newRecorded()
	assert.Equal(t, "", p.Process("$100=5"))
	require.Len(t, r.logs, 1)
	assert.True(t, strings.HasPrefix(r.logs[0], "warning"))

	p.AllowSettings(true)
	assert.Equal(t, "$100=5", p.Process("$100 = 5"))
	assert.Len(t, r.logs, 1)
}

func TestProcessVariables(t *testing.T) {
	p, r := newRecorded()
	assert.Equal(t, "", p.Process("#1=5.5"))
	v, ok := p.Variable(1)
	require.True(t, ok)
	assert.Equal(t, 5.5, v)

	assert.Equal(t, "G1X5.5Y-2", p.Process("G1 X#1 Y-2"))

	r.logs = nil
	assert.Equal(t, "G1X#2", p.Process("G1 X#2"))
	assert.Len(t, r.logs, 1)
}

func TestProcessDistanceModes(t *testing.T) {
	p, r := newRecorded()
	p.Process("G90 G0 X0")
	assert.Empty(t, r.modes)

	p.Process("G91")
	p.Process("G91 X1")
	p.Process("G90.1")
	p.Process("G90 G91.1")

	assert.Equal(t, [][2]DistanceMode{
		{Incremental, Incremental},
		{Incremental, Absolute},
		{Absolute, Incremental},
	}, r.modes)
	l, a := p.DistanceModes()
	assert.Equal(t, Absolute, l)
	assert.Equal(t, Incremental, a)
}

func TestProcessFeedDetect(t *testing.T) {
	p, r := newRecorded()
	assert.Equal(t, "G1X10F250", p.Process("G1 X10 F250"))
	assert.Equal(t, "G1X20F300.5", p.Process("G1 X20 F300.5"))
	assert.Equal(t, []float64{250, 300.5}, r.feeds)
	assert.Equal(t, 300.5, p.Feed())
}

func TestProcessFeedOverride(t *testing.T) {
	p, r := newRecorded()
	p.SetFeedOverride(true)
	p.RequestFeed(500)

	assert.Equal(t, "G1X10F500", p.Process("G1 X10 F250"))
	assert.Equal(t, "G1X10", p.Process("G1 X10 F250"))
	assert.Equal(t, "G1X20", p.Process("G1 X20"))
	assert.Equal(t, "G1X30F500", p.Process("G1 X30 F500"))
	assert.Equal(t, []float64{500}, r.feeds)

	p.RequestFeed(800)
	assert.Equal(t, "G1X10F800", p.Process("G1 X10 F250"))
	assert.Equal(t, []float64{500, 800}, r.feeds)
}

func TestProcessIdempotent(t *testing.T) {
	p, _ := newRecorded()
	p.SetFeedOverride(true)
	p.RequestFeed(500)
	for _, raw := range []string{
		"G21 (mm)",
		"#3=2",
		"G90 G0 X#3 Y0",
		"G1 X10 F250",
		"G1 X10 F250",
		"g91.1",
		"G2 X20 Y0 I5 J0 F100",
		"$100=80",
		"M5 ; done",
	} {
		once := p.Process(raw)
		assert.Equal(t, once, p.Process(once), "%q", raw)
	}
}

func TestResetKeepsOverride(t *testing.T) {
	p, _ := newRecorded()
	p.SetFeedOverride(true)
	p.RequestFeed(100)
	p.Process("#1=3")
	p.Process("G91 G1 X1 F50")
	p.Reset()

	_, ok := p.Variable(1)
	assert.False(t, ok)
	assert.Equal(t, 0.0, p.Feed())
	l, _ := p.DistanceModes()
	assert.Equal(t, Absolute, l)
	assert.Equal(t, "G1X1F100", p.Process("G1 X1 F50"))
}

func TestProcessFeedOverrideWithoutFeedWord(t *testing.T) {
	p, r := newRecorded()
	assert.Equal(t, "G1X1F250", p.Process("G1 X1 F250"))

	p.SetFeedOverride(true)
	p.RequestFeed(500)
	assert.Equal(t, "G1X2F500", p.Process("G1 X2"))
	assert.Equal(t, 500.0, p.Feed())
	assert.Equal(t, "G1X3", p.Process("G1 X3"))
	assert.Equal(t, []float64{250, 500}, r.feeds)

	p.RequestFeed(600)
	assert.Equal(t, "G0X0", p.Process("G0 X0"), "rapids keep their rate")
	assert.Equal(t, "M5", p.Process("M5"))
	assert.Equal(t, "G1X4F600", p.Process("G1 X4"))
	assert.Equal(t, "Y5", p.Process("Y5"))
}

func TestProcessFeedOverrideModalMotion(t *testing.T) {
	p, _ := newRecorded()
	p.Process("G1 X1 F100")
	p.SetFeedOverride(true)
	p.RequestFeed(300)
	assert.Equal(t, "G92X0", p.Process("G92 X0"))
	assert.Equal(t, "G4P1", p.Process("G4 P1"))
	assert.Equal(t, "Y2F300", p.Process("Y2"))
	assert.Equal(t, "G2X0Y0I1J0", p.Process("G2 X0 Y0 I1 J0"))
}

func TestProcessFeedTrailingDot(t *testing.T) {
	p, r := newRecorded()
	assert.Equal(t, "G1X1.F250.", p.Process("G1 X1. F250."))
	assert.Equal(t, []float64{250}, r.feeds)

	p.SetFeedOverride(true)
	p.RequestFeed(500)
	assert.Equal(t, "G1X1.F500", p.Process("G1 X1. F250."))
	assert.Equal(t, "G1X2", p.Process("G1 X2 F.5"))
}

func TestProcessStripsToolChange(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"T1 M6", ""},
		{"M06 T2", ""},
		{"G0 Z5 T3", "G0Z5"},
		{"M6", ""},
		{"M61", "M61"},
		{"M3 S1000", "M3S1000"},
	}
	for _, tt := range tests {
		p, r := newRecorded()
		assert.Equal(t, tt.want, p.Process(tt.in), "%q", tt.in)
		if tt.want == strings.ToUpper(strings.ReplaceAll(tt.in, " ", "")) {
			assert.Empty(t, r.logs, "%q", tt.in)
			continue
		}
		require.Len(t, r.logs, 1, "%q", tt.in)
		assert.Contains(t, r.logs[0], "tool change")
	}
}
