package gocnc

import (
	"fmt"
	"strings"

	"github.com/roffe/gocnc/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

// HandleLine processes one framed line from the controller. The returned
// error is only set for transport faults while refilling the buffer.
func (e *Engine) HandleLine(line string) error {
	if strings.HasPrefix(line, e.cfg.Banner) {
		e.boot(line)
		return nil
	}
	switch telemetry.Classify(line) {
	case telemetry.KindOk:
		return e.handleOk()
	case telemetry.KindError:
		e.handleError(strings.TrimPrefix(line, "error:"))
	case telemetry.KindAlarm:
		e.handleAlarm(strings.TrimPrefix(line, "ALARM:"))
	case telemetry.KindStatus:
		if err := e.status.Parse(line); err != nil {
			e.log.Warnf("dropped status report: %v", err)
			return nil
		}
		e.emit(StateUpdateEvent{Status: e.status})
	case telemetry.KindParserState:
		ps, err := telemetry.ParseParserState(line)
		if err != nil {
			e.log.Warnf("dropped parser state: %v", err)
			return nil
		}
		e.parserState = ps
		e.emit(ParserStateEvent{State: ps})
	case telemetry.KindOffset:
		o, err := telemetry.ParseOffset(line)
		if err != nil {
			e.log.Warnf("dropped offset: %v", err)
			return nil
		}
		e.offsets[o.Name] = o
		if !e.awaiting("$#") {
			e.emit(HashStateEvent{Offsets: e.copyOffsets()})
		}
	case telemetry.KindSetting:
		s, err := telemetry.ParseSetting(line)
		if err != nil {
			e.log.Warnf("dropped setting: %v", err)
			return nil
		}
		e.settingsAcc = append(e.settingsAcc, s)
	case telemetry.KindMessage, telemetry.KindFeedback:
		msg := telemetry.Message(line)
		if telemetry.IsLockMessage(line) {
			e.alarmed = true
			e.emitLog(logrus.WarnLevel, "controller locked: "+msg)
			return nil
		}
		e.emitLog(logrus.InfoLevel, msg)
	default:
		e.emitLog(logrus.InfoLevel, line)
	}
	return nil
}

// awaiting reports if the oldest unacknowledged command is cmd, meaning
// lines arriving now are its response.
func (e *Engine) awaiting(cmd string) bool {
	return len(e.backlog) > 0 && e.backlog[0].Command == cmd
}

func (e *Engine) pop() SentLine {
	done := e.backlog[0]
	e.ledger = e.ledger[1:]
	e.backlog = e.backlog[1:]
	return done
}

func (e *Engine) handleOk() error {
	if len(e.ledger) == 0 {
		e.emitLog(logrus.WarnLevel, "ok received with nothing in flight")
		return nil
	}
	done := e.pop()
	e.stats.acks.Add(1)
	e.emit(ProcessedCommandEvent{Line: done.Line, Command: done.Command})
	e.emit(RXBufferEvent{Used: e.RXUsed(), Capacity: e.cfg.Capacity})

	switch done.Command {
	case "$$":
		e.settings, e.settingsAcc = e.settingsAcc, nil
		e.emit(SettingsEvent{Settings: append([]telemetry.Setting(nil), e.settings...)})
	case "$#":
		e.emit(HashStateEvent{Offsets: e.copyOffsets()})
	}

	if err := e.FillToCapacity(); err != nil {
		return err
	}
	e.checkComplete()
	return nil
}

// handleError attributes the error to the oldest unacknowledged command.
// Errors arriving while already halted are recorded as secondary.
func (e *Engine) handleError(payload string) {
	ferr := newFirmwareError(payload)
	if len(e.ledger) > 0 {
		done := e.pop()
		ferr.Line, ferr.Command = done.Line, done.Command
	}
	secondary := e.errored
	e.errored = true
	e.errs = append(e.errs, ferr)
	e.stats.errors.Add(1)
	e.log.Error(ferr.Error())
	e.emit(ErrorEvent{Err: ferr, Secondary: secondary})
	e.emit(RXBufferEvent{Used: e.RXUsed(), Capacity: e.cfg.Capacity})
}

func (e *Engine) handleAlarm(payload string) {
	a := newAlarmError(payload)
	e.stats.alarms.Add(1)
	e.log.Error(a.Error())
	if e.cfg.AbortOnAlarm {
		e.Abort()
	}
	e.alarmed = true
	e.alarm = a
	e.emit(AlarmEvent{Alarm: a})
}

func (e *Engine) boot(banner string) {
	e.connected = true
	e.resetStream()
	e.pp.Reset()
	e.status = telemetry.Status{}
	e.emitLog(logrus.InfoLevel, fmt.Sprintf("controller booted: %s", banner))
	if e.cfg.OnBoot != nil {
		e.cfg.OnBoot()
	}
	e.emit(BootEvent{Banner: banner})
}

func (e *Engine) copyOffsets() map[string]telemetry.Offset {
	out := make(map[string]telemetry.Offset, len(e.offsets))
	for k, v := range e.offsets {
		out[k] = v
	}
	return out
}
