package gocnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramer(t *testing.T) {
	var f framer
	assert.Empty(t, f.push([]byte("o")))
	assert.Equal(t, []string{"ok"}, f.push([]byte("k\r\n")))
	assert.Equal(t, []string{"error:9", "<Idle|MPos:0.000,0.000,0.000>"},
		f.push([]byte("error:9\r\n<Idle|MPos:0.000,0.000,0.000>\r\nALA")))
	assert.Equal(t, []string{"ALARM:1"}, f.push([]byte("RM:1\n")))
}

func TestFramerDropsBlankLines(t *testing.T) {
	var f framer
	assert.Equal(t, []string{"Grbl 1.1h ['$' for help]"}, f.push([]byte("\r\n\r\nGrbl 1.1h ['$' for help]\r\n")))
	assert.Empty(t, f.push([]byte("   \r\n")))
}
