package dispatch

import (
	"time"

	"github.com/gocomet/ride-dispatch/internal/domain/earnings"
)

// Config holds dispatch tuning
type Config struct {
	MaxCandidates     int
	OfferTTL          time.Duration
	RequestTimeout    time.Duration
	MaxRounds         int
	SweepInterval     time.Duration
	TerminalRetention time.Duration
	RequirePickupOTP  bool
	CommissionRate    float64
	ArchiveRetries    int
	ArchiveBackoff    time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxCandidates:     5,
		OfferTTL:          5 * time.Minute,
		RequestTimeout:    10 * time.Minute,
		MaxRounds:         3,
		SweepInterval:     20 * time.Second,
		TerminalRetention: 30 * time.Minute,
		RequirePickupOTP:  false,
		CommissionRate:    earnings.DefaultCommissionRate,
		ArchiveRetries:    3,
		ArchiveBackoff:    200 * time.Millisecond,
	}
}

// withDefaults fills unset counts and durations so a partially populated
// Config is usable. A zero commission rate is kept. Out of range values are
// replaced and reported so the caller can log them.
func (c Config) withDefaults() (Config, []string) {
	d := DefaultConfig()
	var replaced []string
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.OfferTTL <= 0 {
		c.OfferTTL = d.OfferTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = d.TerminalRetention
	}
	if c.ArchiveRetries <= 0 {
		c.ArchiveRetries = d.ArchiveRetries
	}
	if c.ArchiveBackoff < 0 {
		c.ArchiveBackoff = d.ArchiveBackoff
		replaced = append(replaced, "archive_backoff")
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		c.CommissionRate = d.CommissionRate
		replaced = append(replaced, "commission_rate")
	}
	return c, replaced
}
