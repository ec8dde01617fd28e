// Package clock provides the time source used to stamp captured frames.
package clock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always reports the same instant.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

type queryFunc func(host string) (*ntp.Response, error)

// NTP is the system clock corrected by the offset reported by an NTP server.
// The offset is refreshed by Sync; a failed query keeps the last good one.
type NTP struct {
	server string
	logger *zap.SugaredLogger
	query  queryFunc

	mu     sync.RWMutex
	offset time.Duration
	synced time.Time
}

func NewNTP(server string, logger *zap.SugaredLogger) *NTP {
	return &NTP{
		server: server,
		logger: logger,
		query:  ntp.Query,
	}
}

func (c *NTP) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

func (c *NTP) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// LastSync is when the offset was last refreshed, zero before the first
// successful query.
func (c *NTP) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

func (c *NTP) Sync() error {
	resp, err := c.query(c.server)
	if err == nil {
		err = resp.Validate()
	}
	if err != nil {
		c.logger.Warnf("ntp query %s failed, keeping offset %s: %s", c.server, c.Offset(), err)
		return err
	}
	c.mu.Lock()
	c.offset = resp.ClockOffset
	c.synced = time.Now()
	c.mu.Unlock()
	c.logger.Debugf("ntp offset from %s: %s", c.server, resp.ClockOffset)
	return nil
}

// Run syncs once and then every interval until stop is closed.
func (c *NTP) Run(interval time.Duration, stop <-chan struct{}) {
	_ = c.Sync()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			_ = c.Sync()
		}
	}
}
