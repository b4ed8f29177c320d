package weight

import (
	"math"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
)

// Config holds the decay parameters.
type Config struct {
	// HalfLife is the idle time after which the recency factor halves.
	HalfLife time.Duration `json:"half_life" yaml:"half_life"`

	// FrequencyWeight scales how quickly repeated access saturates the
	// frequency factor.
	FrequencyWeight float64 `json:"frequency_weight" yaml:"frequency_weight"`

	// Floor is the weight below which a record becomes eligible for cleanup.
	Floor float64 `json:"floor" yaml:"floor"`

	// RetentionHorizon is the idle time a record must also exceed before
	// cleanup removes it.
	RetentionHorizon time.Duration `json:"retention_horizon" yaml:"retention_horizon"`
}

// DefaultConfig provides the default decay parameters.
var DefaultConfig = Config{
	HalfLife:         24 * time.Hour,
	FrequencyWeight:  0.1,
	Floor:            0.05,
	RetentionHorizon: 30 * 24 * time.Hour,
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.HalfLife <= 0 {
		return goerr.Wrap(memory.ErrInvalidInput, "half life must be positive", goerr.V("half_life", c.HalfLife))
	}
	if c.FrequencyWeight < 0 {
		return goerr.Wrap(memory.ErrInvalidInput, "frequency weight must not be negative", goerr.V("frequency_weight", c.FrequencyWeight))
	}
	if c.Floor < 0 || c.Floor > 1 {
		return goerr.Wrap(memory.ErrInvalidInput, "floor must be within [0,1]", goerr.V("floor", c.Floor))
	}
	if c.RetentionHorizon < 0 {
		return goerr.Wrap(memory.ErrInvalidInput, "retention horizon must not be negative", goerr.V("retention_horizon", c.RetentionHorizon))
	}
	return nil
}

// Policy turns idle time and access count into a weight in [0,1]. Weight
// must not increase with idle time and must not decrease with accesses.
type Policy interface {
	Weight(idle time.Duration, accesses int) float64
}

// ExponentialDecay halves the recency factor every HalfLife and scales it by
// a saturating frequency factor in [0.5, 1].
type ExponentialDecay struct {
	HalfLife        time.Duration
	FrequencyWeight float64
}

// NewExponentialDecay builds the default policy from cfg.
func NewExponentialDecay(cfg Config) ExponentialDecay {
	return ExponentialDecay{HalfLife: cfg.HalfLife, FrequencyWeight: cfg.FrequencyWeight}
}

func (d ExponentialDecay) Weight(idle time.Duration, accesses int) float64 {
	if idle < 0 {
		idle = 0
	}
	if accesses < 0 {
		accesses = 0
	}

	recency := 1.0
	if d.HalfLife > 0 {
		recency = math.Exp2(-float64(idle) / float64(d.HalfLife))
	} else if idle > 0 {
		recency = 0
	}
	frequency := 1 - math.Exp(-d.FrequencyWeight*float64(accesses))

	return clamp(recency * (0.5 + 0.5*frequency))
}

func clamp(w float64) float64 {
	switch {
	case math.IsNaN(w), w < 0:
		return 0
	case w > 1:
		return 1
	}
	return w
}
