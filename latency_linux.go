package gocnc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// setLatencyTimer lowers the FTDI latency timer of a /dev/ttyUSB device,
// which otherwise holds every ok back for up to 16ms.
func setLatencyTimer(port string, ms int) error {
	device := filepath.Base(port)
	if !strings.HasPrefix(device, "ttyUSB") {
		return nil
	}
	path := fmt.Sprintf("/sys/bus/usb-serial/devices/%s/latency_timer", device)
	if err := os.WriteFile(path, []byte(strconv.Itoa(ms)), 0644); err != nil {
		return fmt.Errorf("failed to set latency timer: %w", err)
	}
	return nil
}
