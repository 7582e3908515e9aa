package notification

import "perpetual-enginev1/internal/model"

// MultiAlerter fans every Alerter call out to all wrapped alerters, for a
// run configured with more than one notification channel at once (e.g.
// Discord and Telegram simultaneously).
type MultiAlerter struct {
	alerters []model.Alerter
}

func NewMultiAlerter(alerters ...model.Alerter) *MultiAlerter {
	return &MultiAlerter{alerters: alerters}
}

func (m *MultiAlerter) OnStrategyStart(name string) {
	for _, a := range m.alerters {
		a.OnStrategyStart(name)
	}
}

func (m *MultiAlerter) OnTradeOpen(p model.Position) {
	for _, a := range m.alerters {
		a.OnTradeOpen(p)
	}
}

func (m *MultiAlerter) OnTradeClose(t model.Trade) {
	for _, a := range m.alerters {
		a.OnTradeClose(t)
	}
}

func (m *MultiAlerter) OnError(message string) {
	for _, a := range m.alerters {
		a.OnError(message)
	}
}

func (m *MultiAlerter) SendAlert(level model.AlertLevel, text string) {
	for _, a := range m.alerters {
		a.SendAlert(level, text)
	}
}

var _ model.Alerter = (*MultiAlerter)(nil)
