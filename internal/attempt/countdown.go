package attempt

import (
	"fmt"
	"time"
)

// countdown turns remaining time into one-shot alerts. It never reads the
// clock itself; the loop passes the remaining time of each tick.
type countdown struct {
	lowTime time.Duration
	final   int

	attemptID string
	lowWarned bool
	lastCue   int
	expired   bool
}

type tickResult struct {
	Remaining time.Duration
	// Seconds is the floor of Remaining in whole seconds.
	Seconds int64
	LowTime bool
	Cue     int
	Expired bool
}

func newCountdown(lowTime time.Duration, final int) countdown {
	return countdown{lowTime: lowTime, final: final, lastCue: -1}
}

// bind resets the alert state when the attempt changes.
func (c *countdown) bind(attemptID string) {
	if c.attemptID == attemptID {
		return
	}
	c.attemptID = attemptID
	c.lowWarned = false
	c.lastCue = -1
	c.expired = false
}

func (c *countdown) observe(remaining time.Duration) tickResult {
	secs := int64(remaining / time.Second)
	if remaining < 0 && remaining%time.Second != 0 {
		secs--
	}
	r := tickResult{Remaining: remaining, Seconds: secs}
	if c.expired {
		return r
	}

	if secs <= 0 {
		c.expired = true
		r.Expired = true
		return r
	}
	if !c.lowWarned && remaining <= c.lowTime {
		c.lowWarned = true
		r.LowTime = true
	}
	if secs <= int64(c.final) && int(secs) != c.lastCue {
		c.lastCue = int(secs)
		r.Cue = int(secs)
	}
	return r
}

// FormatClock renders a duration as mm:ss, or hh:mm:ss from one hour up.
// Negative durations render as zero.
func FormatClock(d time.Duration) string {
	s := int64(d / time.Second)
	if s < 0 {
		s = 0
	}
	hh, mm, ss := s/3600, (s%3600)/60, s%60
	if hh > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss)
	}
	return fmt.Sprintf("%02d:%02d", mm, ss)
}
