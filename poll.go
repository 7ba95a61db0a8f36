package gocnc

import (
	"context"
	"time"
)

// startPoller writes ? every PollInterval so the controller keeps sending
// status reports. It runs until the client stops or the controller reboots.
func (c *Client) startPoller() {
	if c.cfg.PollInterval <= 0 || c.stopping.Load() {
		return
	}
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.pollCancel, c.pollDone = cancel, done
	go func() {
		defer close(done)
		t := time.NewTicker(c.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.realtime('?'); err != nil {
					c.log.Debugf("poller stopped: %v", err)
					return
				}
			}
		}
	}()
}

func (c *Client) stopPoller() {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()
	if c.pollCancel == nil {
		return
	}
	c.pollCancel()
	<-c.pollDone
	c.pollCancel, c.pollDone = nil, nil
}
