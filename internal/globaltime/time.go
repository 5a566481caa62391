package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Cutoff returns the UTC instant window before now. A non-positive window
// yields the zero time, which keeps everything.
func Cutoff(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return UTC().Add(-window)
}

// DayPath formats t as YYYY/MM/DD in UTC.
func DayPath(t time.Time) string {
	return t.UTC().Format("2006/01/02")
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
