package gocnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLatencyTimerIgnoresOtherDevices(t *testing.T) {
	assert.NoError(t, setLatencyTimer("/dev/ttyACM0", 1))
	assert.NoError(t, setLatencyTimer("/dev/pts/3", 1))
	assert.Error(t, setLatencyTimer("/dev/ttyUSB97", 1))
}
