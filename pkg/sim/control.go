package sim

import "fmt"

// Pause stops line processing, received lines stay in the receive buffer.
func (f *Firmware) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *Firmware) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	f.cond.Broadcast()
}

// FailOn makes the controller answer line with error:code.
func (f *Firmware) FailOn(line string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[line] = code
}

// TriggerAlarm raises an alarm as a limit switch would. Buffered lines are
// discarded and motion commands are refused until $X or $H.
func (f *Firmware) TriggerAlarm(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
	f.lines = nil
	f.partial = nil
	f.rxUsed = 0
	f.reply(fmt.Sprintf("ALARM:%d", code))
}

// HighWater is the most bytes ever held in the receive buffer.
func (f *Firmware) HighWater() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rxMax
}

// Buffered is the number of bytes currently held in the receive buffer.
func (f *Firmware) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rxUsed
}

func (f *Firmware) Overflowed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overflow
}

// Received returns every line the controller has processed.
func (f *Firmware) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *Firmware) Position() (x, y, z float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos[0], f.pos[1], f.pos[2]
}

func (f *Firmware) Setting(n int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[n]
}
