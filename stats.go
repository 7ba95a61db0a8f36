package gocnc

import (
	"fmt"
	"sync/atomic"
)

type Stats struct {
	RecvBytes     uint64
	SentBytes     uint64
	SentLines     uint64
	Acks          uint64
	Errors        uint64
	Alarms        uint64
	DroppedEvents uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d sent: %d lines: %d acks: %d errors: %d alarms: %d dropped: %d",
		st.RecvBytes, st.SentBytes, st.SentLines, st.Acks, st.Errors, st.Alarms, st.DroppedEvents)
}

type counters struct {
	recvBytes, sentBytes atomic.Uint64
	sentLines, acks      atomic.Uint64
	errors, alarms       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RecvBytes: c.recvBytes.Load(),
		SentBytes: c.sentBytes.Load(),
		SentLines: c.sentLines.Load(),
		Acks:      c.acks.Load(),
		Errors:    c.errors.Load(),
		Alarms:    c.alarms.Load(),
	}
}
