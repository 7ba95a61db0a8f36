package preprocess

import (
	"math"
	"strings"

	"github.com/256dpi/gcode"
)

type move struct {
	line     string
	motion   int
	from, to [3]float64
	center   [2]float64
	feed     string
}

// spaced separates the words of a compacted line so it can be handed to
// the gcode parser, G1X10Y5 becomes G1 X10 Y5.
func spaced(line string) string {
	var b strings.Builder
	for i, r := range line {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// track follows the modal motion state and the tool position so moves can
// later be split by Segments.
func (p *Preprocessor) track(line string) {
	gl, err := gcode.ParseLine(spaced(line))
	if err != nil {
		p.known = [3]bool{}
		return
	}
	motion := p.motion
	target := p.pos
	var given [3]bool
	var ij [2]float64
	var hasCenter, lost bool
	splittable := true

	for _, c := range gl.Codes {
		switch c.Letter {
		case "G":
			switch c.Value {
			case 0, 1, 2, 3:
				motion = int(c.Value)
			case 17, 18, 19:
				p.plane = int(c.Value)
			case 90, 91, 90.1, 91.1, 93, 94, 20, 21:
				// handled elsewhere or does not move the tool
			case 10, 28, 30, 53, 92, 92.1:
				lost = true
			default:
				if c.Value >= 38 && c.Value < 39 {
					motion = 38
					lost = true
				}
				splittable = false
			}
		case "X", "Y", "Z":
			i := strings.Index("XYZ", c.Letter)
			given[i] = true
			if p.linear == Incremental {
				target[i] += c.Value
			} else {
				target[i] = c.Value
			}
		case "I", "J":
			ij[strings.Index("IJ", c.Letter)] = c.Value
			hasCenter = true
		case "F", "N":
		default:
			splittable = false
		}
	}
	p.motion = motion
	if lost {
		p.known = [3]bool{}
		return
	}
	if !given[0] && !given[1] && !given[2] {
		return
	}

	from, fromKnown := p.pos, p.known
	p.pos = target
	if p.linear == Absolute {
		for i := range given {
			if given[i] {
				p.known[i] = true
			}
		}
	}
	if !splittable || !fromKnown[0] || !fromKnown[1] || !fromKnown[2] {
		return
	}
	switch {
	case motion == 1:
	case (motion == 2 || motion == 3) && hasCenter && p.plane == 17:
	default:
		return
	}
	center := [2]float64{from[0] + ij[0], from[1] + ij[1]}
	if p.arc == Absolute {
		center = ij
	}
	p.move = &move{
		line:   line,
		motion: motion,
		from:   from,
		to:     target,
		center: center,
		feed:   feedRe.FindString(line),
	}
}

// Segments splits the most recently processed line into moves no longer
// than the configured segment length. Lines that are not G1 moves or G2/G3
// arcs in the XY plane, or that start from an unknown position, are
// returned as is. Arcs keep their motion mode by ending in a short arc.
func (p *Preprocessor) Segments(line string) []string {
	m := p.move
	p.move = nil
	if m == nil || m.line != line || p.segLen <= 0 {
		return []string{line}
	}
	var pts [][3]float64
	if m.motion == 1 {
		pts = m.linearPoints(p.segLen)
	} else {
		pts = m.arcPoints(p.segLen)
	}
	if len(pts) < 2 {
		return []string{line}
	}

	out := make([]string, 0, len(pts))
	prev := m.from
	for k, pt := range pts {
		var b strings.Builder
		arcEnd := k == len(pts)-1 && m.motion != 1
		if arcEnd {
			b.WriteString("G")
			b.WriteString(formatNum(float64(m.motion)))
		} else {
			b.WriteString("G1")
		}
		for i, axis := range []string{"X", "Y", "Z"} {
			if m.from[i] == m.to[i] && (m.motion == 1 || i == 2) {
				continue
			}
			b.WriteString(axis)
			if p.linear == Incremental {
				b.WriteString(formatNum(round4(pt[i]) - round4(prev[i])))
			} else {
				b.WriteString(formatNum(pt[i]))
			}
		}
		if arcEnd {
			c := m.center
			if p.arc == Incremental {
				c = [2]float64{c[0] - round4(prev[0]), c[1] - round4(prev[1])}
			}
			b.WriteString("I" + formatNum(c[0]) + "J" + formatNum(c[1]))
		}
		if k == 0 {
			b.WriteString(m.feed)
		}
		out = append(out, b.String())
		prev = pt
	}
	return out
}

func (m *move) linearPoints(segLen float64) [][3]float64 {
	var d [3]float64
	var dist float64
	for i := range d {
		d[i] = m.to[i] - m.from[i]
		dist += d[i] * d[i]
	}
	n := int(math.Ceil(math.Sqrt(dist) / segLen))
	if n < 2 {
		return nil
	}
	pts := make([][3]float64, n)
	for k := 1; k < n; k++ {
		f := float64(k) / float64(n)
		for i := range d {
			pts[k-1][i] = m.from[i] + d[i]*f
		}
	}
	pts[n-1] = m.to
	return pts
}

func (m *move) arcPoints(segLen float64) [][3]float64 {
	cx, cy := m.center[0], m.center[1]
	r := math.Hypot(m.from[0]-cx, m.from[1]-cy)
	a0 := math.Atan2(m.from[1]-cy, m.from[0]-cx)
	a1 := math.Atan2(m.to[1]-cy, m.to[0]-cx)
	if m.motion == 2 {
		if a1 >= a0 {
			a1 -= 2 * math.Pi
		}
	} else if a1 <= a0 {
		a1 += 2 * math.Pi
	}
	sweep := a1 - a0
	n := int(math.Ceil(math.Abs(sweep) * r / segLen))
	if n < 2 {
		return nil
	}
	pts := make([][3]float64, n)
	dz := m.to[2] - m.from[2]
	for k := 1; k < n; k++ {
		f := float64(k) / float64(n)
		a := a0 + sweep*f
		pts[k-1] = [3]float64{cx + r*math.Cos(a), cy + r*math.Sin(a), m.from[2] + dz*f}
	}
	pts[n-1] = m.to
	return pts
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
