// Package timeframe folds a stream of 1-minute candles into higher
// timeframes, maintaining rolling completed-candle history plus the
// in-progress partial candle for each declared timeframe.
//
// Update is the hot path — O(1) per declared timeframe per call — designed
// to be invoked inline from the engine's per-candle step, mirroring the
// single-consumer discipline of an incremental resampler rather than a
// channel-based pipeline: the aggregator has exactly one caller per engine
// run.
package timeframe

import (
	"fmt"

	"perpetual-enginev1/internal/model"
)

// MaxHistory bounds per-timeframe completed-candle history (~one year of 1m
// candles), trimmed from the front once exceeded.
const MaxHistory = 525_600

// forming holds the in-progress candle for one timeframe, if any.
type forming struct {
	candle model.Candle
	active bool
}

// Aggregator maintains, for each declared timeframe, completed history and
// an in-progress candle built from 1-minute constituents.
type Aggregator struct {
	tfs     []model.Timeframe
	history map[model.Timeframe][]model.Candle
	current map[model.Timeframe]*forming
}

// New constructs an Aggregator for the given declared timeframes. 1m is
// implicit and always tracked. Unknown timeframe labels are a configuration
// error.
func New(tfs []model.Timeframe) (*Aggregator, error) {
	a := &Aggregator{
		tfs:     append([]model.Timeframe{model.TF1m}, tfs...),
		history: make(map[model.Timeframe][]model.Candle),
		current: make(map[model.Timeframe]*forming),
	}
	seen := make(map[model.Timeframe]bool)
	deduped := a.tfs[:0]
	for _, tf := range a.tfs {
		if _, ok := model.TimeframeMinutes[tf]; !ok {
			return nil, fmt.Errorf("timeframe: unknown timeframe label %q", tf)
		}
		if seen[tf] {
			continue
		}
		seen[tf] = true
		deduped = append(deduped, tf)
		a.history[tf] = make([]model.Candle, 0, 1024)
		a.current[tf] = &forming{}
	}
	a.tfs = deduped
	return a, nil
}

// Update folds a new 1-minute candle into every declared timeframe and
// returns the resulting multi-timeframe snapshot.
func (a *Aggregator) Update(c model.Candle) model.MultiTimeframeData {
	for _, tf := range a.tfs {
		if tf == model.TF1m {
			a.history[tf] = appendBounded(a.history[tf], c)
			continue
		}
		a.foldInto(tf, c)
	}
	return a.snapshot(c)
}

// WarmUp is equivalent to repeated Update but discards snapshots — used to
// prime history from a historical prefix before a strategy is attached.
func (a *Aggregator) WarmUp(candles []model.Candle) {
	for _, c := range candles {
		a.Update(c)
	}
}

// GetHistory returns a copy of completed candles for tf.
func (a *Aggregator) GetHistory(tf model.Timeframe) ([]model.Candle, error) {
	h, ok := a.history[tf]
	if !ok {
		return nil, fmt.Errorf("timeframe: unknown timeframe label %q", tf)
	}
	out := make([]model.Candle, len(h))
	copy(out, h)
	return out, nil
}

func (a *Aggregator) foldInto(tf model.Timeframe, c model.Candle) {
	f := a.current[tf]
	if !f.active {
		f.active = true
		f.candle = c
	} else {
		if c.High > f.candle.High {
			f.candle.High = c.High
		}
		if c.Low < f.candle.Low {
			f.candle.Low = c.Low
		}
		f.candle.Close = c.Close
		f.candle.Volume += c.Volume
		f.candle.OpenInterest = c.OpenInterest
		f.candle.CVD = c.CVD
	}
	f.candle.Timestamp = bucketStart(tf, c.Timestamp)

	if IsTimeframeComplete(tf, c.Timestamp) {
		a.history[tf] = appendBounded(a.history[tf], f.candle)
		f.active = false
		f.candle = model.Candle{}
	}
}

// snapshot builds the multi-timeframe view after processing c.
func (a *Aggregator) snapshot(c model.Candle) model.MultiTimeframeData {
	out := make(model.MultiTimeframeData, len(a.tfs))
	for _, tf := range a.tfs {
		if tf == model.TF1m {
			h := a.history[tf]
			out[tf] = model.TimeframeData{Latest: c, History: h}
			continue
		}
		f := a.current[tf]
		h := a.history[tf]
		var latest model.Candle
		switch {
		case f.active:
			latest = f.candle
		case len(h) > 0:
			latest = h[len(h)-1]
		default:
			latest = c
		}
		out[tf] = model.TimeframeData{Latest: latest, History: h}
	}
	return out
}

func appendBounded(h []model.Candle, c model.Candle) []model.Candle {
	h = append(h, c)
	if len(h) > MaxHistory {
		h = h[len(h)-MaxHistory:]
	}
	return h
}
