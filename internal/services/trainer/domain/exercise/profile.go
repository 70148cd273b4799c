package exercise

import (
	"fmt"
	"io"
	"os"
	"time"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
	"gopkg.in/yaml.v3"
)

// Timing sets how long each deadline-driven phase lasts. A zero duration
// disables the deadline, so the phase waits for explicit input.
type Timing struct {
	Preparation time.Duration `yaml:"preparation"`
	Active      time.Duration `yaml:"active"`
	Feedback    time.Duration `yaml:"feedback"`
}

// DefaultTiming returns the phase durations used when a profile sets none.
func DefaultTiming() Timing {
	return Timing{
		Preparation: 3 * time.Second,
		Active:      10 * time.Second,
		Feedback:    2 * time.Second,
	}
}

// Profile binds an exercise to its timing and difficulty bounds.
type Profile struct {
	Exercise   string            `yaml:"-"`
	Timing     Timing            `yaml:"timing"`
	Difficulty difficulty.Config `yaml:"difficulty"`
}

// DefaultProfile returns the profile an exercise gets without overrides.
func DefaultProfile(name string) Profile {
	return Profile{
		Exercise:   name,
		Timing:     DefaultTiming(),
		Difficulty: difficulty.DefaultConfig(),
	}
}

// Validate checks timing and difficulty bounds. Failures are configuration
// errors.
func (p Profile) Validate() error {
	if p.Timing.Preparation < 0 || p.Timing.Active < 0 || p.Timing.Feedback < 0 {
		reason := fmt.Sprintf("negative phase timing for %s", p.Exercise)
		return apperrors.WithMetadata(apperrors.CodeConfiguration, "exercise: "+reason, map[string]string{"Reason": reason})
	}
	return p.Difficulty.Validate()
}

type profileFile struct {
	Profiles map[string]yaml.Node `yaml:"profiles"`
}

// LoadProfiles decodes a YAML document of the form
//
//	profiles:
//	  symbol_memory:
//	    timing: {preparation: 2s, active: 8s, feedback: 1s}
//	    difficulty: {alpha: 0.3, max_level: 8}
//
// Fields a profile leaves out keep their defaults. Profiles are not validated
// here; an invalid one is reported when a session is opened with it.
func LoadProfiles(r io.Reader) (map[string]Profile, error) {
	var file profileFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	profiles := make(map[string]Profile, len(file.Profiles))
	for name, node := range file.Profiles {
		profile := DefaultProfile(name)
		if err := node.Decode(&profile); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", name, err)
		}
		profile.Exercise = name
		profiles[name] = profile
	}
	return profiles, nil
}

// LoadProfilesFile reads profiles from path.
func LoadProfilesFile(path string) (map[string]Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	return LoadProfiles(f)
}
