// Package trend derives momentum and trend signals from a price series.
package trend

import (
	"math"

	"github.com/camuig/treasury-agent/internal/domain"
)

const MinSamples = 5

type Params struct {
	Window      int     // readings considered, newest last
	ShortWindow int     // short SMA length
	DeadZonePct float64 // |sma diff| below this is neutral
}

func DefaultParams() Params {
	return Params{Window: 10, ShortWindow: 5, DeadZonePct: 0.1}
}

type Result struct {
	Outlook       domain.Outlook `json:"outlook"`
	ShortSMA      float64        `json:"short_sma"`
	LongSMA       float64        `json:"long_sma"`
	SMADiffPct    float64        `json:"sma_diff_pct"`
	Momentum      float64        `json:"momentum"` // % change first -> last of the window
	Support       float64        `json:"support"`
	Resistance    float64        `json:"resistance"`
	RangePosition float64        `json:"range_position"` // 0 at support, 100 at resistance
	ConsecUp      int            `json:"consec_up"`
	ConsecDown    int            `json:"consec_down"`
	Strength      int            `json:"strength"`
	Samples       int            `json:"samples"`
}

// Analyze is a pure function of its input. Fewer than MinSamples readings
// yield a neutral zero-strength result.
func Analyze(points []domain.PricePoint, p Params) Result {
	if p.Window < MinSamples {
		p.Window = MinSamples
	}
	if p.ShortWindow <= 0 || p.ShortWindow > p.Window {
		p.ShortWindow = MinSamples
	}

	res := Result{Outlook: domain.Neutral, Samples: len(points)}
	if len(points) < MinSamples {
		return res
	}

	window := points
	if len(window) > p.Window {
		window = window[len(window)-p.Window:]
	}
	prices := make([]float64, len(window))
	for i, pt := range window {
		prices[i] = pt.Price
	}

	short := p.ShortWindow
	if short > len(prices) {
		short = len(prices)
	}
	res.ShortSMA = mean(prices[len(prices)-short:])
	res.LongSMA = mean(prices)
	if res.LongSMA != 0 {
		res.SMADiffPct = (res.ShortSMA - res.LongSMA) / res.LongSMA * 100
	}

	switch {
	case res.SMADiffPct > p.DeadZonePct:
		res.Outlook = domain.Bullish
	case res.SMADiffPct < -p.DeadZonePct:
		res.Outlook = domain.Bearish
	}

	first, last := prices[0], prices[len(prices)-1]
	if first != 0 {
		res.Momentum = (last - first) / first * 100
	}

	res.Support, res.Resistance = prices[0], prices[0]
	for _, v := range prices[1:] {
		res.Support = math.Min(res.Support, v)
		res.Resistance = math.Max(res.Resistance, v)
	}
	if span := res.Resistance - res.Support; span > 0 {
		res.RangePosition = (last - res.Support) / span * 100
	} else {
		res.RangePosition = 50
	}

	res.ConsecUp, res.ConsecDown = consecutive(prices)

	score := math.Abs(res.SMADiffPct)*20 + float64(max(res.ConsecUp, res.ConsecDown))*10
	res.Strength = int(math.Round(math.Max(0, math.Min(100, score))))

	return res
}

// consecutive walks backwards from the newest reading while every step keeps
// the sign of the newest step. A flat step ends the run.
func consecutive(prices []float64) (up, down int) {
	var sign int
	for i := len(prices) - 1; i > 0; i-- {
		step := prices[i] - prices[i-1]
		s := 0
		if step > 0 {
			s = 1
		} else if step < 0 {
			s = -1
		}
		if s == 0 || (sign != 0 && s != sign) {
			break
		}
		sign = s
		if s > 0 {
			up++
		} else {
			down++
		}
	}
	return up, down
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
