package live

import (
	"testing"
	"time"

	"perpetual-enginev1/internal/model"
)

func TestBuildStreamURL_NormalizesSymbolAndJoinsStreams(t *testing.T) {
	url, err := buildStreamURL("wss://fstream.binance.com/ws", "BTC/USDT:USDT", []model.Timeframe{model.TF1m, model.TF5m})
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}
	want := "wss://fstream.binance.com/ws/btcusdt@kline_1m/btcusdt@kline_5m"
	if url != want {
		t.Errorf("buildStreamURL = %q, want %q", url, want)
	}
}

func TestBuildStreamURL_UnsupportedTimeframe(t *testing.T) {
	if _, err := buildStreamURL("wss://x/ws", "BTCUSDT", []model.Timeframe{"3m"}); err == nil {
		t.Fatal("expected error for an unsupported timeframe")
	}
}

func combinedKlineMessage(interval string, openTime int64, open, high, low, close, volume string, closed bool) []byte {
	return []byte(`{"stream":"btcusdt@kline_` + interval + `","data":{"e":"kline","k":{` +
		`"i":"` + interval + `","t":` + itoa(openTime) + `,"o":"` + open + `","h":"` + high + `","l":"` + low + `","c":"` + close + `","v":"` + volume + `","x":` + boolStr(closed) + `}}}`)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestParseKlineMessage_ClosedCandle(t *testing.T) {
	raw := combinedKlineMessage("1m", 1700000000000, "100", "105", "99", "103", "10", true)
	tf, candle, closed, err := parseKlineMessage(raw)
	if err != nil {
		t.Fatalf("parseKlineMessage: %v", err)
	}
	if tf != model.TF1m {
		t.Errorf("tf = %v, want 1m", tf)
	}
	if !closed {
		t.Error("expected closed=true")
	}
	if candle.Open != 100 || candle.High != 105 || candle.Low != 99 || candle.Close != 103 || candle.Volume != 10 {
		t.Errorf("unexpected candle: %+v", candle)
	}
	if candle.Timestamp != time.UnixMilli(1700000000000).UTC() {
		t.Errorf("timestamp = %v, want %v", candle.Timestamp, time.UnixMilli(1700000000000).UTC())
	}
	if candle.CVD != 10 {
		t.Errorf("per-candle delta CVD = %v, want +10 (bullish body)", candle.CVD)
	}
}

func TestParseKlineMessage_UnclosedCandle(t *testing.T) {
	raw := combinedKlineMessage("1m", 0, "100", "105", "99", "103", "10", false)
	_, _, closed, err := parseKlineMessage(raw)
	if err != nil {
		t.Fatalf("parseKlineMessage: %v", err)
	}
	if closed {
		t.Error("expected closed=false")
	}
}

func TestParseKlineMessage_UnknownInterval(t *testing.T) {
	raw := combinedKlineMessage("2m", 0, "100", "105", "99", "103", "10", true)
	if _, _, _, err := parseKlineMessage(raw); err == nil {
		t.Fatal("expected error for an unrecognized kline interval")
	}
}

func TestParseKlineMessage_NonKlineEvent(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade"}}`)
	if _, _, _, err := parseKlineMessage(raw); err == nil {
		t.Fatal("expected error for a non-kline event")
	}
}

func TestAccumulateCVD_RunsAcrossCalls(t *testing.T) {
	p := &Provider{cvdAccumulator: map[model.Timeframe]float64{model.TF1m: 0}}
	first := p.accumulateCVD(model.TF1m, model.Candle{CVD: 5})
	second := p.accumulateCVD(model.TF1m, model.Candle{CVD: -2})
	if first.CVD != 5 {
		t.Errorf("first.CVD = %v, want 5", first.CVD)
	}
	if second.CVD != 3 {
		t.Errorf("second.CVD = %v, want 3 (running total)", second.CVD)
	}
}

func TestParseFloat(t *testing.T) {
	if got := parseFloat("123.45"); got != 123.45 {
		t.Errorf("parseFloat = %v, want 123.45", got)
	}
}
