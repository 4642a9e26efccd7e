package domain

import (
	"time"

	"github.com/google/uuid"
)

// Portfolio is the backtest's working state: signed target weights held
// constant between rebalance events. Long notional and short notional
// are each normalized to 1, so the book is dollar-neutral by construction.
type Portfolio struct {
	Weights       map[string]float64
	LastRebalance time.Time
}

func NewPortfolio() *Portfolio {
	return &Portfolio{
		Weights: map[string]float64{},
	}
}

func (p Portfolio) DeepCopy() *Portfolio {
	weights := make(map[string]float64, len(p.Weights))
	for symbol, w := range p.Weights {
		weights[symbol] = w
	}
	return &Portfolio{
		Weights:       weights,
		LastRebalance: p.LastRebalance,
	}
}

func (p Portfolio) HeldSymbols() []string {
	symbols := []string{}
	for symbol, w := range p.Weights {
		if w != 0 {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}

// GrossExposure is the sum of absolute weights.
func (p Portfolio) GrossExposure() float64 {
	gross := 0.0
	for _, w := range p.Weights {
		if w < 0 {
			gross -= w
		} else {
			gross += w
		}
	}
	return gross
}

// NetExposure is the signed sum of weights - ~0 for a dollar-neutral book.
func (p Portfolio) NetExposure() float64 {
	net := 0.0
	for _, w := range p.Weights {
		net += w
	}
	return net
}

// RebalanceEvent records a weight reset. Turnover is sum |new - old|
// per symbol - kept for cost attribution even though the engine itself
// does not model transaction costs.
type RebalanceEvent struct {
	Date          time.Time
	TargetWeights map[string]float64
	Turnover      float64
}

// DailySample is one mark-to-market step. FrozenSymbols lists held names
// that were absent that day and contributed zero return.
type DailySample struct {
	Date          time.Time
	Return        float64
	GrossExposure float64
	NetExposure   float64
	FrozenSymbols []string
}

// PortfolioReturnSeries is the backtest output: one sample per trading
// date on the full calendar, plus the rebalance events that shaped it.
type PortfolioReturnSeries struct {
	RunID      uuid.UUID
	Daily      []DailySample
	Rebalances []RebalanceEvent
}

func (s PortfolioReturnSeries) Returns() []float64 {
	out := make([]float64, len(s.Daily))
	for i, d := range s.Daily {
		out[i] = d.Return
	}
	return out
}

func (s PortfolioReturnSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Daily))
	for i, d := range s.Daily {
		out[i] = d.Date
	}
	return out
}

// TurnoverByDate returns rebalance-date turnover, zero elsewhere.
func (s PortfolioReturnSeries) TurnoverByDate() map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Rebalances))
	for _, e := range s.Rebalances {
		out[e.Date] = e.Turnover
	}
	return out
}
