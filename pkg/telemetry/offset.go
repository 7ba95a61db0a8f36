package telemetry

import (
	"fmt"
	"strings"
)

// Offset is one entry of the $# report, e.g. [G54:0.000,0.000,0.000],
// [TLO:0.000] or [PRB:0.000,0.000,0.000:1].
type Offset struct {
	Name     string
	Position Position
	// Success is only meaningful for PRB.
	Success bool
}

var offsetNames = []string{"G54", "G55", "G56", "G57", "G58", "G59", "G28", "G30", "G92", "TLO", "PRB"}

func IsOffset(line string) bool {
	for _, n := range offsetNames {
		if strings.HasPrefix(line, "["+n+":") {
			return true
		}
	}
	return false
}

func ParseOffset(line string) (Offset, error) {
	var o Offset
	if !IsOffset(line) || !strings.HasSuffix(line, "]") {
		return o, fmt.Errorf("not an offset: %q", line)
	}
	name, rest, _ := strings.Cut(line[1:len(line)-1], ":")
	o.Name = name
	if name == "PRB" {
		var flag string
		rest, flag, _ = strings.Cut(rest, ":")
		o.Success = flag == "1"
	}
	if name == "TLO" {
		v, err := parseFloats(rest)
		if err != nil || len(v) != 1 {
			return o, fmt.Errorf("parse TLO %q: invalid value", rest)
		}
		o.Position.Z = v[0]
		return o, nil
	}
	p, err := parsePosition(rest)
	if err != nil {
		return o, fmt.Errorf("parse %s %q: %w", name, rest, err)
	}
	o.Position = p
	return o, nil
}
