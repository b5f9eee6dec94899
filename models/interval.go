package models

import (
	"strings"
	"time"
)

var intervalDurations = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	// Shortest month, so stepping past a monthly bar never skips the next one.
	"1M": 28 * 24 * time.Hour,
}

var intervalUnits = map[string]string{
	"s": "s", "sec": "s", "second": "s", "seconds": "s",
	"m": "m", "min": "m", "minute": "m", "minutes": "m",
	"h": "h", "hour": "h", "hours": "h",
	"d": "d", "day": "d", "days": "d",
	"w": "w", "week": "w", "weeks": "w",
	"M": "M", "month": "M", "months": "M",
}

// NormalizeInterval maps "1m", "1 minute", "15min" or "1 hour" to the Binance interval code.
func NormalizeInterval(interval string) (string, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(interval), " ", "")
	if _, ok := intervalDurations[s]; ok {
		return s, true
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return "", false
	}
	unit, ok := intervalUnits[strings.ToLower(s[i:])]
	if !ok {
		return "", false
	}
	code := s[:i] + unit
	if _, ok := intervalDurations[code]; !ok {
		return "", false
	}
	return code, true
}

// IntervalDuration is the step between consecutive open times for a Binance interval code.
func IntervalDuration(code string) (time.Duration, bool) {
	d, ok := intervalDurations[code]
	return d, ok
}
