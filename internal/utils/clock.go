package utils

import "time"

// Clock returns the current time in unix milliseconds.
type Clock func() int64

func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NextTimestamp returns the timestamp to assign to a record last written at
// previous. The result is never behind the wall clock and always strictly
// greater than previous, even inside a single millisecond.
func NextTimestamp(now, previous int64) int64 {
	if now > previous {
		return now
	}
	return previous + 1
}
