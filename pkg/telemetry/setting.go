package telemetry

import (
	"fmt"
	"regexp"
	"strings"
)

// Setting is one line of the $$ dump. Older firmware appends a
// description in parentheses.
type Setting struct {
	Key     string
	Value   string
	Comment string
}

func (s Setting) String() string {
	return s.Key + "=" + s.Value
}

var settingRe = regexp.MustCompile(`^(\$[A-Za-z]*\d+)=([^\s(]*)\s*(?:\((.*)\))?$`)

func IsSetting(line string) bool {
	return settingRe.MatchString(strings.TrimSpace(line))
}

func ParseSetting(line string) (Setting, error) {
	m := settingRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Setting{}, fmt.Errorf("not a setting: %q", line)
	}
	return Setting{Key: m[1], Value: m[2], Comment: m[3]}, nil
}
