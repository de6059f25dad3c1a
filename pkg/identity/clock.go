package identity

import (
	"fmt"
	"sync"
	"time"
)

// Bangkok is the authoritative zone for bucketing dates (UTC+7, no DST)
// เขตเวลากรุงเทพฯ ใช้ตัดรอบวันสำหรับรายงาน
var Bangkok = time.FixedZone("Asia/Bangkok", 7*60*60)

// DateLayout is the calendar date format used on every boundary.
const DateLayout = "2006-01-02"

// Clock returns the current instant
// นาฬิกาของระบบ
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock and localizes it to Bangkok.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().In(Bangkok)
}

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t.In(Bangkok)}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t.In(Bangkok)
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// DateOf truncates t to midnight of its Bangkok calendar day.
func DateOf(t time.Time) time.Time {
	b := t.In(Bangkok)
	return time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, Bangkok)
}

// DayBounds returns the half-open interval [start, end) covering the Bangkok day of d.
func DayBounds(d time.Time) (time.Time, time.Time) {
	start := DateOf(d)
	return start, start.AddDate(0, 0, 1)
}

// RangeBounds returns the half-open interval covering Bangkok days from..to inclusive.
func RangeBounds(from, to time.Time) (time.Time, time.Time, error) {
	start := DateOf(from)
	end := DateOf(to).AddDate(0, 0, 1)
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("range start %s is after end %s", from.Format(DateLayout), to.Format(DateLayout))
	}
	return start, end, nil
}

// ParseDate parses a YYYY-MM-DD string as a Bangkok calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, Bangkok)
}

// FormatDate renders the Bangkok calendar date of t.
func FormatDate(t time.Time) string {
	return t.In(Bangkok).Format(DateLayout)
}
