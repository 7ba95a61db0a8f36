// Package preprocess normalizes G-code lines before they are queued for the
// controller. It strips comments and whitespace, gates settings writes,
// substitutes #n variables, tracks distance modes and feed and can
// override the feed rate of a running job.
package preprocess

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

type DistanceMode int

const (
	Absolute DistanceMode = iota
	Incremental
)

func (d DistanceMode) String() string {
	if d == Incremental {
		return "incremental"
	}
	return "absolute"
}

var (
	settingRe = regexp.MustCompile(`^\$(\d|N\d)`)
	varSetRe  = regexp.MustCompile(`^#(\d+)=([-+]?\d*\.?\d+)$`)
	varRe     = regexp.MustCompile(`#(\d+)`)
	gWordRe   = regexp.MustCompile(`G(\d+(?:\.\d+)?)`)
	feedRe    = regexp.MustCompile(`F([-+]?(?:\d+\.?\d*|\.\d+))`)
	wordRe    = regexp.MustCompile(`([A-Z])([-+]?[0-9.]*)`)
)

type Preprocessor struct {
	// OnFeedChange is called every time a feed word is seen or injected.
	OnFeedChange func(feed float64)
	// OnDistanceMode is called when the linear or arc distance mode changes.
	OnDistanceMode func(linear, arc DistanceMode)
	OnLog          func(level logrus.Level, msg string)

	allowSettings bool
	override      bool
	requested     float64
	segLen        float64

	feed   float64
	linear DistanceMode
	arc    DistanceMode
	vars   map[int]float64

	motion int
	plane  int
	pos    [3]float64
	known  [3]bool
	move   *move
}

func New() *Preprocessor {
	p := &Preprocessor{}
	p.Reset()
	return p
}

// Reset returns the modal state to the controller power-on defaults.
// Override and settings configuration is kept.
func (p *Preprocessor) Reset() {
	p.feed = 0
	p.linear = Absolute
	p.arc = Incremental
	p.vars = make(map[int]float64)
	p.motion = 0
	p.plane = 17
	p.pos = [3]float64{}
	p.known = [3]bool{}
	p.move = nil
}

// AllowSettings enables $n=v lines. Only safe while lines are sent one at
// a time since the controller stops serial reception during EEPROM writes.
func (p *Preprocessor) AllowSettings(v bool) { p.allowSettings = v }

func (p *Preprocessor) SetFeedOverride(v bool) { p.override = v }

func (p *Preprocessor) RequestFeed(feed float64) { p.requested = feed }

// SetSegmentLength enables splitting of G1/G2/G3 moves into segments of at
// most l units. Zero disables it.
func (p *Preprocessor) SetSegmentLength(l float64) { p.segLen = l }

func (p *Preprocessor) Feed() float64 { return p.feed }

func (p *Preprocessor) DistanceModes() (linear, arc DistanceMode) { return p.linear, p.arc }

func (p *Preprocessor) Variable(n int) (float64, bool) {
	v, ok := p.vars[n]
	return v, ok
}

// Process returns the line to send for raw, or an empty string when there
// is nothing to send. Processing an already processed line yields the same
// line.
func (p *Preprocessor) Process(raw string) string {
	p.move = nil
	line := raw
	if i := strings.IndexAny(line, ";("); i >= 0 {
		line = line[:i]
	}
	line = strings.ToUpper(strings.Join(strings.Fields(line), ""))
	if line == "" {
		return ""
	}

	if settingRe.MatchString(line) {
		if !p.allowSettings {
			p.log(logrus.WarnLevel, fmt.Sprintf("settings command %q dropped, use incremental mode to change settings", line))
			return ""
		}
		return line
	}
	if strings.HasPrefix(line, "$") {
		return line
	}

	if m := varSetRe.FindStringSubmatch(line); m != nil {
		n, _ := strconv.Atoi(m[1])
		v, _ := strconv.ParseFloat(m[2], 64)
		p.vars[n] = v
		p.log(logrus.DebugLevel, fmt.Sprintf("#%d = %s", n, formatNum(v)))
		return ""
	}
	line = p.substitute(line)
	if line = p.stripToolChange(line); line == "" {
		return ""
	}

	p.trackDistance(line)
	line = p.handleFeed(line)
	p.track(line)
	return line
}

func (p *Preprocessor) substitute(line string) string {
	return varRe.ReplaceAllStringFunc(line, func(s string) string {
		n, _ := strconv.Atoi(s[1:])
		v, ok := p.vars[n]
		if !ok {
			p.log(logrus.WarnLevel, fmt.Sprintf("variable #%d is not defined", n))
			return s
		}
		return formatNum(v)
	})
}

func (p *Preprocessor) trackDistance(line string) {
	linear, arc := p.linear, p.arc
	for _, m := range gWordRe.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "90":
			linear = Absolute
		case "91":
			linear = Incremental
		case "90.1":
			arc = Absolute
		case "91.1":
			arc = Incremental
		}
	}
	if linear == p.linear && arc == p.arc {
		return
	}
	p.linear, p.arc = linear, arc
	if p.OnDistanceMode != nil {
		p.OnDistanceMode(linear, arc)
	}
}

// stripToolChange removes T and M6 words, which the controller rejects.
// Dropping a tool change does not alter the toolpath.
func (p *Preprocessor) stripToolChange(line string) string {
	var b strings.Builder
	var dropped []string
	last := 0
	for _, m := range wordRe.FindAllStringSubmatchIndex(line, -1) {
		letter, value := line[m[2]:m[3]], line[m[4]:m[5]]
		if letter != "T" && (letter != "M" || !isSix(value)) {
			continue
		}
		b.WriteString(line[last:m[0]])
		dropped = append(dropped, line[m[0]:m[1]])
		last = m[1]
	}
	if dropped == nil {
		return line
	}
	b.WriteString(line[last:])
	p.log(logrus.WarnLevel, fmt.Sprintf("unsupported tool change %s stripped from %q", strings.Join(dropped, " "), line))
	return b.String()
}

func isSix(value string) bool {
	v, err := strconv.ParseFloat(value, 64)
	return err == nil && v == 6
}

// feedMove reports if line moves at the feed rate, by its own motion word
// or the modal one, and carries an axis or arc word. Non-modal commands
// taking axis words are not moves.
func (p *Preprocessor) feedMove(line string) bool {
	motion := p.motion
	for _, m := range gWordRe.FindAllStringSubmatch(line, -1) {
		switch m[1] {
		case "0", "00":
			motion = 0
		case "1", "01":
			motion = 1
		case "2", "02":
			motion = 2
		case "3", "03":
			motion = 3
		case "4", "04", "10", "28", "30", "92":
			return false
		}
	}
	if motion < 1 || motion > 3 {
		return false
	}
	return strings.ContainsAny(line, "XYZABCIJKR")
}

func (p *Preprocessor) handleFeed(line string) string {
	m := feedRe.FindStringSubmatch(line)
	if m == nil {
		if p.override && p.requested > 0 && p.feed != p.requested && p.feedMove(line) {
			p.log(logrus.InfoLevel, "overriding feed: "+formatNum(p.requested))
			line += "F" + formatNum(p.requested)
			p.setFeed(p.requested)
		}
		return line
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return line
	}
	if !p.override || p.requested <= 0 {
		p.setFeed(v)
		return line
	}
	if v == p.requested {
		if p.feed != v {
			p.setFeed(v)
		}
		return line
	}
	line = feedRe.ReplaceAllString(line, "")
	if p.feed != p.requested {
		line += "F" + formatNum(p.requested)
		p.setFeed(p.requested)
	}
	return line
}

func (p *Preprocessor) setFeed(v float64) {
	p.feed = v
	if p.OnFeedChange != nil {
		p.OnFeedChange(v)
	}
}

func (p *Preprocessor) log(level logrus.Level, msg string) {
	if p.OnLog != nil {
		p.OnLog(level, msg)
		return
	}
	logrus.WithField("component", "preprocess").Log(level, msg)
}

func formatNum(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
