package gocnc

import (
	"strconv"
	"strings"
)

var errorCodes = map[int]string{
	1:  "G-code words consist of a letter and a value. Letter was not found.",
	2:  "Numeric value format is not valid or missing an expected value.",
	3:  "System command was not recognized or supported.",
	4:  "Negative value received for an expected positive value.",
	5:  "Homing cycle is not enabled via settings.",
	6:  "Minimum step pulse time must be greater than 3usec",
	7:  "EEPROM read failed. Reset and restored to default values.",
	8:  "Real-time command cannot be used unless idle.",
	9:  "G-code locked out during alarm or jog state",
	10: "Soft limits cannot be enabled without homing also enabled.",
	11: "Max characters per line exceeded. Line was not processed and executed.",
	12: "Setting value exceeds the maximum step rate supported.",
	13: "Safety door detected as opened and door state initiated.",
	14: "Build info or startup line exceeded EEPROM line length limit.",
	15: "Jog target exceeds machine travel. Command ignored.",
	16: "Jog command with no '=' or contains prohibited g-code.",
	17: "Laser mode requires PWM output.",
	20: "Unsupported or invalid g-code command found in block.",
	21: "More than one g-code command from same modal group found in block.",
	22: "Feed rate has not yet been set or is undefined.",
	23: "G-code command in block requires an integer value.",
	24: "Two G-code commands that both require the use of the XYZ axis words were detected in the block.",
	25: "A G-code word was repeated in the block.",
	26: "A G-code command implicitly or explicitly requires XYZ axis words in the block, but none were detected.",
	27: "N line number value is not within the valid range of 1 - 9,999,999.",
	28: "A G-code command was sent, but is missing some required P or L value words in the line.",
	29: "System only supports six work coordinate systems G54-G59.",
	30: "G53 only allowed with G0 and G1 motion modes.",
	31: "Axis words found in block when no command or current modal state uses them.",
	32: "G2 and G3 arcs require at least one in-plane axis word.",
	33: "Motion command target is invalid.",
	34: "Arc radius value is invalid.",
	35: "G2 and G3 arcs require at least one in-plane offset word.",
	36: "Unused value words found in block.",
	37: "G43.1 dynamic tool length offset is not assigned to configured tool length axis.",
	38: "Tool number greater than max supported value.",
}

var alarmCodes = map[int]string{
	1:  "Hard limit triggered. Position lost, re-homing recommended.",
	2:  "Soft limit alarm. G-code motion target exceeds machine travel.",
	3:  "Reset while in motion. Position lost, re-homing recommended.",
	4:  "Probe fail. Probe is not in the expected initial state.",
	5:  "Probe fail. Probe did not contact the workpiece.",
	6:  "Homing fail. The active homing cycle was reset.",
	7:  "Homing fail. Safety door was opened during homing cycle.",
	8:  "Homing fail. Pull off travel failed to clear limit switch.",
	9:  "Homing fail. Could not find limit switch within search distances.",
	10: "Homing fail. Second dual axis limit switch failed to trigger.",
}

// parseCode splits the payload of error: and ALARM: lines. Newer firmware
// sends a number, older firmware a description.
func parseCode(payload string, table map[int]string) (int, string) {
	payload = strings.TrimSpace(payload)
	code, err := strconv.Atoi(payload)
	if err != nil {
		return 0, payload
	}
	if msg, ok := table[code]; ok {
		return code, msg
	}
	return code, "unknown code"
}

func newFirmwareError(payload string) *FirmwareError {
	code, msg := parseCode(payload, errorCodes)
	return &FirmwareError{Code: code, Message: msg, Line: -1}
}

func newAlarmError(payload string) *AlarmError {
	code, msg := parseCode(payload, alarmCodes)
	return &AlarmError{Code: code, Message: msg}
}
