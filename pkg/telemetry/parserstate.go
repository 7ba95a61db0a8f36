package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// ParserState holds the active modal groups as reported by $G.
type ParserState struct {
	Motion      string // G0, G1, G2, G3, G38.2, G80 ...
	WCS         string // G54 - G59
	Plane       string // G17, G18, G19
	Units       string // G20, G21
	Distance    string // G90, G91
	ArcDistance string // G91.1
	FeedMode    string // G93, G94
	Program     string // M0, M1, M2, M30
	Spindle     string // M3, M4, M5
	Coolant     []string
	Tool        int
	Feed        float64
	Speed       float64
}

func (p ParserState) String() string {
	var words []string
	for _, w := range []string{p.Motion, p.WCS, p.Plane, p.Units, p.Distance, p.ArcDistance, p.FeedMode, p.Program, p.Spindle} {
		if w != "" {
			words = append(words, w)
		}
	}
	words = append(words, p.Coolant...)
	words = append(words, fmt.Sprintf("T%d", p.Tool), "F"+formatFloat(p.Feed), "S"+formatFloat(p.Speed))
	return strings.Join(words, " ")
}

// IsParserState reports if line looks like a $G response, [GC:G0 G54 ...]
// or the older bare form [G0 G54 ...].
func IsParserState(line string) bool {
	if strings.HasPrefix(line, "[GC:") {
		return true
	}
	if !strings.HasPrefix(line, "[G") || len(line) < 3 {
		return false
	}
	// offsets like [G54:0.000,...] carry a colon
	return line[2] >= '0' && line[2] <= '9' && !strings.Contains(line, ":")
}

func ParseParserState(line string) (ParserState, error) {
	var ps ParserState
	if !IsParserState(line) {
		return ps, fmt.Errorf("not a parser state: %q", line)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(line, "[GC:"), "["), "]")
	for _, word := range strings.Fields(body) {
		if len(word) < 2 {
			return ps, fmt.Errorf("invalid word %q", word)
		}
		letter, num := word[0], word[1:]
		var err error
		switch letter {
		case 'G':
			err = ps.setG(word, num)
		case 'M':
			switch num {
			case "0", "1", "2", "30":
				ps.Program = word
			case "3", "4", "5":
				ps.Spindle = word
			case "7", "8", "9":
				ps.Coolant = append(ps.Coolant, word)
			case "56":
			default:
				err = fmt.Errorf("unknown modal word %q", word)
			}
		case 'T':
			ps.Tool, err = strconv.Atoi(num)
		case 'F':
			ps.Feed, err = strconv.ParseFloat(num, 64)
		case 'S':
			ps.Speed, err = strconv.ParseFloat(num, 64)
		default:
			err = fmt.Errorf("unknown modal word %q", word)
		}
		if err != nil {
			return ps, fmt.Errorf("parse parser state: %w", err)
		}
	}
	return ps, nil
}

func (ps *ParserState) setG(word, num string) error {
	switch {
	case num == "90.1" || num == "91.1":
		ps.ArcDistance = word
	case strings.HasPrefix(num, "38."):
		ps.Motion = word
	}
	if ps.Motion == word || ps.ArcDistance == word {
		return nil
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return err
	}
	switch v {
	case 0, 1, 2, 3, 80:
		ps.Motion = word
	case 54, 55, 56, 57, 58, 59, 59.1, 59.2, 59.3:
		ps.WCS = word
	case 17, 18, 19:
		ps.Plane = word
	case 20, 21:
		ps.Units = word
	case 90, 91:
		ps.Distance = word
	case 93, 94:
		ps.FeedMode = word
	case 40, 43.1, 49:
		// tool length/radius compensation, not tracked
	default:
		return fmt.Errorf("unknown modal word %q", word)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
