package earnings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		gross      float64
		rate       float64
		net        float64
		commission float64
	}{
		{"default rate", 100, DefaultCommissionRate, 85, 15},
		{"rounds to cents", 123.45, DefaultCommissionRate, 104.93, 18.52},
		{"zero fare", 0, DefaultCommissionRate, 0, 0},
		{"out of range rate falls back", 200, 1.5, 170, 30},
		{"no commission", 50, 0, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Split(tt.gross, tt.rate)
			assert.InDelta(t, tt.net, b.Net, 0.001)
			assert.InDelta(t, tt.commission, b.Commission, 0.001)
			assert.InDelta(t, b.Gross, b.Net+b.Commission, 0.001)
		})
	}
}
