package timeframe

import (
	"time"

	"perpetual-enginev1/internal/model"
)

// IsTimeframeComplete reports whether the 1-minute candle timestamped at ts
// is the last minute of tf's bucket, in wall-clock UTC.
func IsTimeframeComplete(tf model.Timeframe, ts time.Time) bool {
	ts = ts.UTC()
	hour, minute := ts.Hour(), ts.Minute()

	switch tf {
	case model.TF1m:
		return true
	case model.TF5m, model.TF15m:
		n := model.TimeframeMinutes[tf]
		return (hour*60+minute+1)%n == 0
	case model.TF1h:
		return minute == 59
	case model.TF4h:
		return (hour*60+minute+1)%240 == 0
	case model.TF1d:
		return hour == 23 && minute == 59
	case model.TF1w:
		return ts.Weekday() == time.Sunday && hour == 23 && minute == 59
	default:
		return false
	}
}

// bucketStart returns the wall-clock UTC start of the bucket that ts falls
// into for timeframe tf — used only to stamp the in-progress/completed
// candle's timestamp, since the aggregator's open/high/low/close values
// already come from its 1-minute constituents.
func bucketStart(tf model.Timeframe, ts time.Time) time.Time {
	ts = ts.UTC()
	switch tf {
	case model.TF1m:
		return ts.Truncate(time.Minute)
	case model.TF1d:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case model.TF1w:
		// weekly buckets close Sunday 23:59, so they start Monday 00:00
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	default:
		n := time.Duration(model.TimeframeMinutes[tf]) * time.Minute
		return ts.Truncate(n)
	}
}

// GetLowerTimeframe returns the next-lower timeframe than tf in the total
// ordering, used by the SL/TP drill-down to find constituent candles.
// Returns ok=false for 1m (no lower timeframe exists).
func GetLowerTimeframe(tf model.Timeframe) (model.Timeframe, bool) {
	for i, t := range model.Timeframes {
		if t == tf {
			if i == 0 {
				return "", false
			}
			return model.Timeframes[i-1], true
		}
	}
	return "", false
}
