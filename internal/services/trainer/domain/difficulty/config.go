package difficulty

import (
	"fmt"
	"strconv"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
)

// ErrConfiguration is the sentinel for invalid controller bounds. Validation
// failures match it under errors.Is and carry the reason as metadata.
var ErrConfiguration = apperrors.New(apperrors.CodeConfiguration, "difficulty configuration is invalid")

// Config bounds the controller for one exercise profile.
type Config struct {
	// Alpha is the EWMA smoothing factor in (0,1].
	Alpha float64 `yaml:"alpha"`
	// UpperThreshold is the score at or above which a correct streak levels up.
	UpperThreshold float64 `yaml:"upper_threshold"`
	// LowerThreshold is the score at or below which an incorrect streak levels down.
	LowerThreshold float64 `yaml:"lower_threshold"`
	// MinStreak is the streak length both level rules require.
	MinStreak int `yaml:"min_streak"`
	// MinLevel and MaxLevel clamp every level change.
	MinLevel int `yaml:"min_level"`
	MaxLevel int `yaml:"max_level"`
	// InitialLevel seeds a category the first time it is attempted.
	InitialLevel int `yaml:"initial_level"`
	// InitialScore seeds the EWMA for a new category.
	InitialScore float64 `yaml:"initial_score"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:          0.2,
		UpperThreshold: 0.8,
		LowerThreshold: 0.4,
		MinStreak:      3,
		MinLevel:       1,
		MaxLevel:       10,
		InitialLevel:   1,
		InitialScore:   0.5,
	}
}

// Validate reports the first bound violation as a configuration error.
func (c Config) Validate() error {
	switch {
	case c.MinLevel > c.MaxLevel:
		return invalid("min level %d exceeds max level %d", c.MinLevel, c.MaxLevel)
	case !(c.Alpha > 0 && c.Alpha <= 1):
		return invalid("alpha %s outside (0,1]", formatFloat(c.Alpha))
	case c.UpperThreshold < 0 || c.UpperThreshold > 1:
		return invalid("upper threshold %s outside [0,1]", formatFloat(c.UpperThreshold))
	case c.LowerThreshold < 0 || c.LowerThreshold > 1:
		return invalid("lower threshold %s outside [0,1]", formatFloat(c.LowerThreshold))
	case c.LowerThreshold >= c.UpperThreshold:
		return invalid("lower threshold %s must be below upper threshold %s", formatFloat(c.LowerThreshold), formatFloat(c.UpperThreshold))
	case c.MinStreak < 1:
		return invalid("min streak %d must be at least 1", c.MinStreak)
	case c.InitialLevel < c.MinLevel || c.InitialLevel > c.MaxLevel:
		return invalid("initial level %d outside [%d,%d]", c.InitialLevel, c.MinLevel, c.MaxLevel)
	case c.InitialScore < 0 || c.InitialScore > 1:
		return invalid("initial score %s outside [0,1]", formatFloat(c.InitialScore))
	}
	return nil
}

func invalid(format string, args ...any) error {
	reason := fmt.Sprintf(format, args...)
	return apperrors.WithMetadata(apperrors.CodeConfiguration, "difficulty: "+reason, map[string]string{"Reason": reason})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
