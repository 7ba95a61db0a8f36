package gocnc

import (
	"fmt"
	"time"

	"github.com/roffe/gocnc/pkg/preprocess"
	"github.com/roffe/gocnc/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

type EventType int

func (et EventType) String() string {
	switch et {
	case EventTypeLog:
		return "log"
	case EventTypeBoot:
		return "boot"
	case EventTypeDisconnected:
		return "disconnected"
	case EventTypeStateUpdate:
		return "state_update"
	case EventTypeParserStateUpdate:
		return "parser_state_update"
	case EventTypeHashStateUpdate:
		return "hash_state_update"
	case EventTypeSettingsDownloaded:
		return "settings_downloaded"
	case EventTypeSendCommand:
		return "send_command"
	case EventTypeProcessedCommand:
		return "processed_command"
	case EventTypeError:
		return "error"
	case EventTypeAlarm:
		return "alarm"
	case EventTypeRXBufferPercent:
		return "rx_buffer_percent"
	case EventTypeProgressPercent:
		return "progress_percent"
	case EventTypeFeedChange:
		return "feed_change"
	case EventTypeDistanceMode:
		return "distance_mode"
	case EventTypeStreamState:
		return "stream_state"
	case EventTypeJobCompleted:
		return "job_completed"
	default:
		return "unknown"
	}
}

const (
	EventTypeLog EventType = iota
	EventTypeBoot
	EventTypeDisconnected
	EventTypeStateUpdate
	EventTypeParserStateUpdate
	EventTypeHashStateUpdate
	EventTypeSettingsDownloaded
	EventTypeSendCommand
	EventTypeProcessedCommand
	EventTypeError
	EventTypeAlarm
	EventTypeRXBufferPercent
	EventTypeProgressPercent
	EventTypeFeedChange
	EventTypeDistanceMode
	EventTypeStreamState
	EventTypeJobCompleted
)

// Event is implemented by every event the client emits. The set is closed.
type Event interface {
	Type() EventType
	String() string
	event()
}

type LogEvent struct {
	Level   logrus.Level
	Message string
}

type BootEvent struct {
	Banner string
}

type DisconnectedEvent struct {
	Err error `json:"-"`
}

type StateUpdateEvent struct {
	Status telemetry.Status
}

type ParserStateEvent struct {
	State telemetry.ParserState
}

type HashStateEvent struct {
	Offsets map[string]telemetry.Offset
}

type SettingsEvent struct {
	Settings []telemetry.Setting
}

type SendCommandEvent struct {
	Line    int
	Command string
}

type ProcessedCommandEvent struct {
	Line    int
	Command string
}

type ErrorEvent struct {
	Err *FirmwareError
	// Secondary is set for errors received while already halted.
	Secondary bool
}

type AlarmEvent struct {
	Alarm *AlarmError
}

type RXBufferEvent struct {
	Used, Capacity int
}

func (e RXBufferEvent) Percent() float64 {
	if e.Capacity == 0 {
		return 0
	}
	return float64(e.Used) / float64(e.Capacity) * 100
}

type ProgressEvent struct {
	Line, Total int
}

func (e ProgressEvent) Percent() float64 {
	if e.Total == 0 {
		return 100
	}
	return float64(e.Line) / float64(e.Total) * 100
}

type FeedChangeEvent struct {
	Feed float64
}

type DistanceModeEvent struct {
	Linear, Arc preprocess.DistanceMode
}

type StreamStateEvent struct {
	State StreamState
}

type JobCompletedEvent struct {
	Lines   int
	Elapsed time.Duration
}

func (LogEvent) Type() EventType              { return EventTypeLog }
func (BootEvent) Type() EventType             { return EventTypeBoot }
func (DisconnectedEvent) Type() EventType     { return EventTypeDisconnected }
func (StateUpdateEvent) Type() EventType      { return EventTypeStateUpdate }
func (ParserStateEvent) Type() EventType      { return EventTypeParserStateUpdate }
func (HashStateEvent) Type() EventType        { return EventTypeHashStateUpdate }
func (SettingsEvent) Type() EventType         { return EventTypeSettingsDownloaded }
func (SendCommandEvent) Type() EventType      { return EventTypeSendCommand }
func (ProcessedCommandEvent) Type() EventType { return EventTypeProcessedCommand }
func (ErrorEvent) Type() EventType            { return EventTypeError }
func (AlarmEvent) Type() EventType            { return EventTypeAlarm }
func (RXBufferEvent) Type() EventType         { return EventTypeRXBufferPercent }
func (ProgressEvent) Type() EventType         { return EventTypeProgressPercent }
func (FeedChangeEvent) Type() EventType       { return EventTypeFeedChange }
func (DistanceModeEvent) Type() EventType     { return EventTypeDistanceMode }
func (StreamStateEvent) Type() EventType      { return EventTypeStreamState }
func (JobCompletedEvent) Type() EventType     { return EventTypeJobCompleted }

func (LogEvent) event()              {}
func (BootEvent) event()             {}
func (DisconnectedEvent) event()     {}
func (StateUpdateEvent) event()      {}
func (ParserStateEvent) event()      {}
func (HashStateEvent) event()        {}
func (SettingsEvent) event()         {}
func (SendCommandEvent) event()      {}
func (ProcessedCommandEvent) event() {}
func (ErrorEvent) event()            {}
func (AlarmEvent) event()            {}
func (RXBufferEvent) event()         {}
func (ProgressEvent) event()         {}
func (FeedChangeEvent) event()       {}
func (DistanceModeEvent) event()     {}
func (StreamStateEvent) event()      {}
func (JobCompletedEvent) event()     {}

func (e LogEvent) String() string {
	return fmt.Sprintf("[%s] %s", e.Level, e.Message)
}

func (e BootEvent) String() string { return "boot: " + e.Banner }

func (e DisconnectedEvent) String() string {
	if e.Err != nil {
		return "disconnected: " + e.Err.Error()
	}
	return "disconnected"
}

func (e StateUpdateEvent) String() string {
	return fmt.Sprintf("%s mpos: %s wpos: %s", e.Status.State, e.Status.MPos, e.Status.WPos)
}

func (e ParserStateEvent) String() string { return "parser state: " + e.State.String() }

func (e HashStateEvent) String() string {
	return fmt.Sprintf("offsets: %d entries", len(e.Offsets))
}

func (e SettingsEvent) String() string {
	return fmt.Sprintf("settings: %d entries", len(e.Settings))
}

func (e SendCommandEvent) String() string {
	return fmt.Sprintf(">> %d %s", e.Line, e.Command)
}

func (e ProcessedCommandEvent) String() string {
	return fmt.Sprintf("ok %d %s", e.Line, e.Command)
}

func (e ErrorEvent) String() string {
	if e.Secondary {
		return "secondary " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e AlarmEvent) String() string { return e.Alarm.Error() }

func (e RXBufferEvent) String() string {
	return fmt.Sprintf("rx buffer %.0f%%", e.Percent())
}

func (e ProgressEvent) String() string {
	return fmt.Sprintf("progress %d/%d", e.Line, e.Total)
}

func (e FeedChangeEvent) String() string {
	return fmt.Sprintf("feed %g", e.Feed)
}

func (e DistanceModeEvent) String() string {
	return fmt.Sprintf("distance mode linear: %s arc: %s", e.Linear, e.Arc)
}

func (e StreamStateEvent) String() string { return "stream " + e.State.String() }

func (e JobCompletedEvent) String() string {
	return fmt.Sprintf("job completed, %d lines in %s", e.Lines, e.Elapsed.Round(time.Millisecond))
}
