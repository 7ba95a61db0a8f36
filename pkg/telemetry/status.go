package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a machine or work coordinate triple with an optional fourth axis.
type Position struct {
	X, Y, Z, A float64
}

func (p Position) add(o Position) Position { return Position{p.X + o.X, p.Y + o.Y, p.Z + o.Z, p.A + o.A} }
func (p Position) sub(o Position) Position { return Position{p.X - o.X, p.Y - o.Y, p.Z - o.Z, p.A - o.A} }

func (p Position) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f", p.X, p.Y, p.Z)
}

type Pins struct{ X, Y, Z, P, D, H, R, S bool }

func (pins *Pins) parse(s string) {
	pins.X = strings.ContainsRune(s, 'X')
	pins.Y = strings.ContainsRune(s, 'Y')
	pins.Z = strings.ContainsRune(s, 'Z')
	pins.P = strings.ContainsRune(s, 'P')
	pins.D = strings.ContainsRune(s, 'D')
	pins.H = strings.ContainsRune(s, 'H')
	pins.R = strings.ContainsRune(s, 'R')
	pins.S = strings.ContainsRune(s, 'S')
}

type Accessories struct {
	SpindleCW  bool
	SpindleCCW bool
	Flood      bool
	Mist       bool
}

// Status is a decoded realtime status report. A Status should be reused
// between reports since the work coordinate offset is only sent
// periodically by the firmware.
type Status struct {
	State    string
	SubState int

	MPos, WPos, WCO Position

	Feed    float64
	Spindle float64

	// Planner and RXFree come from Bf: (or Buf:/RX: on older firmware).
	Planner int
	RXFree  int
	Line    int

	Override struct {
		Feed, Rapid, Spindle float64
	}
	Pins        Pins
	Accessories Accessories
}

func (s Status) IsAlarm() bool { return strings.HasPrefix(s.State, "Alarm") }
func (s Status) IsIdle() bool  { return s.State == "Idle" }

type field struct {
	key, value string
}

// Parse decodes both the pipe delimited report
//
//	<Idle|MPos:1.000,2.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>
//
// and the older comma delimited one
//
//	<Run,MPos:1.000,2.000,0.000,WPos:1.000,2.000,0.000>
//
// s is left untouched when the report fails to parse.
func (s *Status) Parse(data string) error {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return fmt.Errorf("not a status report: %q", data)
	}
	data = data[1 : len(data)-1]

	var state string
	var fields []field
	if strings.Contains(data, "|") {
		parts := strings.Split(data, "|")
		state = parts[0]
		for _, part := range parts[1:] {
			p := strings.SplitN(part, ":", 2)
			if len(p) != 2 {
				continue
			}
			fields = append(fields, field{p[0], p[1]})
		}
	} else {
		parts := strings.Split(data, ",")
		state = parts[0]
		for _, part := range parts[1:] {
			if k, v, ok := strings.Cut(part, ":"); ok {
				fields = append(fields, field{k, v})
				continue
			}
			if len(fields) == 0 {
				return fmt.Errorf("unexpected value %q", part)
			}
			fields[len(fields)-1].value += "," + part
		}
	}
	if state == "" {
		return fmt.Errorf("missing machine state")
	}

	n := *s
	n.State, n.SubState = state, 0
	if st, sub, ok := strings.Cut(state, ":"); ok {
		n.State = st
		n.SubState, _ = strconv.Atoi(sub)
	}
	n.Pins = Pins{}
	n.Accessories = Accessories{}
	n.Line = 0

	var haveMPos, haveWPos bool
	var err error
	for _, f := range fields {
		switch f.key {
		case "MPos":
			haveMPos = true
			n.MPos, err = parsePosition(f.value)
			if !haveWPos {
				n.WPos = n.MPos.sub(n.WCO)
			}
		case "WPos":
			haveWPos = true
			n.WPos, err = parsePosition(f.value)
			if !haveMPos {
				n.MPos = n.WPos.add(n.WCO)
			}
		case "WCO":
			n.WCO, err = parsePosition(f.value)
			switch {
			case haveMPos && haveWPos:
			case haveMPos:
				n.WPos = n.MPos.sub(n.WCO)
			default:
				n.MPos = n.WPos.add(n.WCO)
			}
		case "F":
			n.Feed, err = strconv.ParseFloat(f.value, 64)
		case "FS":
			var v []float64
			if v, err = parseFloats(f.value); err == nil && len(v) >= 2 {
				n.Feed, n.Spindle = v[0], v[1]
			}
		case "Bf":
			_, err = fmt.Sscanf(f.value, "%d,%d", &n.Planner, &n.RXFree)
		case "Buf":
			n.Planner, err = strconv.Atoi(f.value)
		case "RX":
			n.RXFree, err = strconv.Atoi(f.value)
		case "Ln":
			n.Line, err = strconv.Atoi(f.value)
		case "Ov":
			_, err = fmt.Sscanf(f.value, "%f,%f,%f", &n.Override.Feed, &n.Override.Rapid, &n.Override.Spindle)
		case "Pn":
			n.Pins.parse(f.value)
		case "A":
			n.Accessories.SpindleCW = strings.ContainsRune(f.value, 'S')
			n.Accessories.SpindleCCW = strings.ContainsRune(f.value, 'C')
			n.Accessories.Flood = strings.ContainsRune(f.value, 'F')
			n.Accessories.Mist = strings.ContainsRune(f.value, 'M')
		}
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.key, f.value, err)
		}
	}
	*s = n
	return nil
}

func parseFloats(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parsePosition(s string) (Position, error) {
	v, err := parseFloats(s)
	if err != nil {
		return Position{}, err
	}
	var p Position
	axes := []*float64{&p.X, &p.Y, &p.Z, &p.A}
	for i := 0; i < len(v) && i < len(axes); i++ {
		*axes[i] = v[i]
	}
	return p, nil
}
