// Package earnings splits a completed ride's fare between the platform and
// the driver.
package earnings

import "math"

// DefaultCommissionRate is the platform's share of every completed fare
const DefaultCommissionRate = 0.15

// Breakdown is the result of splitting a fare
type Breakdown struct {
	Gross          float64 `json:"gross"`
	CommissionRate float64 `json:"commission_rate"`
	Commission     float64 `json:"commission"`
	Net            float64 `json:"net"`
}

// Split applies the commission rate to a gross fare. Amounts are rounded to
// cents and Commission + Net always equals Gross.
func Split(gross, rate float64) Breakdown {
	if rate < 0 || rate > 1 {
		rate = DefaultCommissionRate
	}
	gross = round2(gross)
	net := round2(gross * (1 - rate))
	return Breakdown{
		Gross:          gross,
		CommissionRate: rate,
		Commission:     round2(gross - net),
		Net:            net,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
