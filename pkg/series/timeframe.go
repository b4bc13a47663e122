package series

import (
	"fmt"
	"time"
)

// timeframeSeconds maps a timeframe unit suffix to its length in seconds.
// "M" is a calendar month approximated as 1/12 of a year, matching the
// cadence used by exchange kline endpoints.
var timeframeSeconds = map[byte]int64{
	's': 1,
	'm': 60,
	'h': 3600,
	'd': 86400,
	'w': 604800,
	'M': 2628000,
}

// timeLayout is the human-readable UTC format used by transfer_time and the
// missing-times sidecar.
const timeLayout = "2006-01-02 15:04:05"

// TimeframeToMillis converts a timeframe string such as "15m" or "1d" into
// a millisecond step.
func TimeframeToMillis(timeframe string) (int64, error) {
	if len(timeframe) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	unit, ok := timeframeSeconds[timeframe[len(timeframe)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid timeframe unit in %q", timeframe)
	}
	var count int64
	for _, c := range timeframe[:len(timeframe)-1] {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid timeframe count in %q", timeframe)
		}
		count = count*10 + int64(c-'0')
	}
	if count == 0 {
		return 0, fmt.Errorf("zero timeframe count in %q", timeframe)
	}
	return count * unit * 1000, nil
}

// MillisToUTC formats an epoch-millisecond timestamp as a UTC datetime
// string.
func MillisToUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(timeLayout)
}

// UTCToMillis parses a datetime string produced by MillisToUTC back into an
// epoch-millisecond timestamp.
func UTCToMillis(s string) (int64, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
