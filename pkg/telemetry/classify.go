// Package telemetry decodes the unsolicited and query lines sent by the
// controller: status reports, parser state, settings and offsets.
package telemetry

import "strings"

type Kind int

const (
	KindUnknown Kind = iota
	KindOk
	KindError
	KindAlarm
	KindStatus
	KindParserState
	KindOffset
	KindSetting
	KindMessage
	KindFeedback
)

func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindError:
		return "error"
	case KindAlarm:
		return "alarm"
	case KindStatus:
		return "status"
	case KindParserState:
		return "parserstate"
	case KindOffset:
		return "offset"
	case KindSetting:
		return "setting"
	case KindMessage:
		return "message"
	case KindFeedback:
		return "feedback"
	default:
		return "unknown"
	}
}

// Classify picks the parser for a framed line. Boot banners are firmware
// specific and are left to the caller.
func Classify(line string) Kind {
	switch {
	case line == "ok":
		return KindOk
	case strings.HasPrefix(line, "error:"):
		return KindError
	case strings.HasPrefix(line, "ALARM:"):
		return KindAlarm
	case strings.HasPrefix(line, "<"):
		return KindStatus
	case strings.HasPrefix(line, "[MSG:"):
		return KindMessage
	case IsOffset(line):
		return KindOffset
	case IsParserState(line):
		return KindParserState
	case strings.HasPrefix(line, "["):
		return KindFeedback
	case IsSetting(line):
		return KindSetting
	}
	return KindUnknown
}

// Message returns the text of a [MSG:...] line, or the bracketed feedback
// of older firmware like ['$H'|'$X' to unlock].
func Message(line string) string {
	line = strings.TrimPrefix(line, "[MSG:")
	line = strings.TrimPrefix(line, "[")
	return strings.TrimSuffix(line, "]")
}

// IsLockMessage reports if the controller says it is locked and needs
// homing or an unlock.
func IsLockMessage(line string) bool {
	return strings.Contains(line, "to unlock")
}
