// Package examples holds the built-in example strategies registered at
// process startup, standing in for the second of the two directories a
// deployment scans for strategies (the first being user-supplied
// strategies imported for their registration side effect).
package examples

import (
	"log/slog"

	"perpetual-enginev1/internal/model"
	"perpetual-enginev1/internal/portfolio"
	"perpetual-enginev1/internal/strategy"
)

func init() {
	strategy.Register("SMACrossover", func() strategy.Strategy {
		return NewSMACrossover(9, 21, 0.1, 0.05, 0.02, true, 14)
	})
}

// SMACrossover opens a long on a golden cross (fast SMA crosses above slow)
// and a short on a death cross, sized as a fixed percent of equity with
// fixed stop-loss/take-profit percentages. An optional RSI filter skips
// golden crosses while overbought and death crosses while oversold.
type SMACrossover struct {
	fastPeriod, slowPeriod int
	sizePercent            float64
	slPercent, tpPercent   float64

	fastBuf            []float64
	slowBuf            []float64
	fastIdx, slowIdx    int
	fastSum, slowSum    float64
	count               int
	prevFast, prevSlow  float64
	ready               bool

	rsiEnabled bool
	rsiPeriod  int
	rsiAvgGain float64
	rsiAvgLoss float64
	prevClose  float64
	rsiCount   int
	lastRSI    float64
}

// NewSMACrossover builds an SMACrossover strategy. fastPeriod must be less
// than slowPeriod. sizePercent/slPercent/tpPercent are fractions of equity
// and fractions of entry price respectively.
func NewSMACrossover(fastPeriod, slowPeriod int, sizePercent, slPercent, tpPercent float64, enableRSI bool, rsiPeriod int) *SMACrossover {
	return &SMACrossover{
		fastPeriod:  fastPeriod,
		slowPeriod:  slowPeriod,
		sizePercent: sizePercent,
		slPercent:   slPercent,
		tpPercent:   tpPercent,
		fastBuf:     make([]float64, fastPeriod),
		slowBuf:     make([]float64, slowPeriod),
		rsiEnabled:  enableRSI,
		rsiPeriod:   rsiPeriod,
	}
}

func (s *SMACrossover) Name() string { return "SMACrossover" }

func (s *SMACrossover) Timeframes() []model.Timeframe {
	return []model.Timeframe{model.TF1m}
}

func (s *SMACrossover) OnCandle(mtf model.MultiTimeframeData, pf *portfolio.Portfolio) []model.Signal {
	candle := mtf[model.TF1m].Latest
	price := candle.Close
	s.count++

	if s.rsiEnabled && s.count > 1 {
		s.updateRSI(price)
	}
	s.prevClose = price

	s.fastSum -= s.fastBuf[s.fastIdx]
	s.fastBuf[s.fastIdx] = price
	s.fastSum += price
	s.fastIdx = (s.fastIdx + 1) % s.fastPeriod

	s.slowSum -= s.slowBuf[s.slowIdx]
	s.slowBuf[s.slowIdx] = price
	s.slowSum += price
	s.slowIdx = (s.slowIdx + 1) % s.slowPeriod

	if s.count < s.slowPeriod {
		return nil
	}

	fastSMA := s.fastSum / float64(s.fastPeriod)
	slowSMA := s.slowSum / float64(s.slowPeriod)
	defer func() {
		s.prevFast, s.prevSlow, s.ready = fastSMA, slowSMA, true
	}()

	if !s.ready || pf.HasPosition() {
		return nil
	}

	if s.prevFast <= s.prevSlow && fastSMA > slowSMA {
		if s.rsiEnabled && s.lastRSI > 70 {
			slog.Debug("golden cross filtered by RSI", "rsi", s.lastRSI)
			return nil
		}
		return []model.Signal{model.NewOpenLong(s.sizePercent, price*(1-s.slPercent), price*(1+s.tpPercent))}
	}

	if s.prevFast >= s.prevSlow && fastSMA < slowSMA {
		if s.rsiEnabled && s.lastRSI < 30 {
			slog.Debug("death cross filtered by RSI", "rsi", s.lastRSI)
			return nil
		}
		return []model.Signal{model.NewOpenShort(s.sizePercent, price*(1+s.slPercent), price*(1-s.tpPercent))}
	}

	return nil
}

func (s *SMACrossover) updateRSI(price float64) {
	change := price - s.prevClose
	s.rsiCount++

	if s.rsiCount <= s.rsiPeriod {
		if change > 0 {
			s.rsiAvgGain += change
		} else {
			s.rsiAvgLoss -= change
		}
		if s.rsiCount == s.rsiPeriod {
			s.rsiAvgGain /= float64(s.rsiPeriod)
			s.rsiAvgLoss /= float64(s.rsiPeriod)
		}
	} else {
		n := float64(s.rsiPeriod)
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		s.rsiAvgGain = (s.rsiAvgGain*(n-1) + gain) / n
		s.rsiAvgLoss = (s.rsiAvgLoss*(n-1) + loss) / n
	}

	if s.rsiAvgLoss == 0 {
		s.lastRSI = 100
	} else {
		rs := s.rsiAvgGain / s.rsiAvgLoss
		s.lastRSI = 100 - (100 / (1 + rs))
	}
}

// GetState round-trips the ring-buffer and RSI state across restarts.
func (s *SMACrossover) GetState() map[string]any {
	return map[string]any{
		"fast_buf":    append([]float64(nil), s.fastBuf...),
		"slow_buf":    append([]float64(nil), s.slowBuf...),
		"fast_idx":    s.fastIdx,
		"slow_idx":    s.slowIdx,
		"fast_sum":    s.fastSum,
		"slow_sum":    s.slowSum,
		"count":       s.count,
		"prev_fast":   s.prevFast,
		"prev_slow":   s.prevSlow,
		"ready":       s.ready,
		"rsi_avg_gain": s.rsiAvgGain,
		"rsi_avg_loss": s.rsiAvgLoss,
		"prev_close":  s.prevClose,
		"rsi_count":   s.rsiCount,
		"last_rsi":    s.lastRSI,
	}
}

// SetState restores state produced by GetState. Missing or mistyped keys
// are left at their zero value rather than causing an error: a no-op
// candle after restore must leave behavior unchanged, not crash it.
func (s *SMACrossover) SetState(state map[string]any) {
	if v, ok := floatSlice(state["fast_buf"]); ok {
		s.fastBuf = v
	}
	if v, ok := floatSlice(state["slow_buf"]); ok {
		s.slowBuf = v
	}
	s.fastIdx = intOf(state["fast_idx"])
	s.slowIdx = intOf(state["slow_idx"])
	s.fastSum = floatOf(state["fast_sum"])
	s.slowSum = floatOf(state["slow_sum"])
	s.count = intOf(state["count"])
	s.prevFast = floatOf(state["prev_fast"])
	s.prevSlow = floatOf(state["prev_slow"])
	if v, ok := state["ready"].(bool); ok {
		s.ready = v
	}
	s.rsiAvgGain = floatOf(state["rsi_avg_gain"])
	s.rsiAvgLoss = floatOf(state["rsi_avg_loss"])
	s.prevClose = floatOf(state["prev_close"])
	s.rsiCount = intOf(state["rsi_count"])
	s.lastRSI = floatOf(state["last_rsi"])
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

func floatSlice(v any) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []any:
		out := make([]float64, len(s))
		for i, e := range s {
			out[i] = floatOf(e)
		}
		return out, true
	default:
		return nil, false
	}
}
