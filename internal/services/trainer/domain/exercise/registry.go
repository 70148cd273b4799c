package exercise

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
)

// ErrUnknownExercise reports a lookup for a name nothing registered.
var ErrUnknownExercise = apperrors.New(apperrors.CodeUnknownExercise, "unknown exercise")

// Registry resolves exercises and their profiles by name.
type Registry struct {
	mu        sync.RWMutex
	exercises map[string]Exercise
	profiles  map[string]Profile
}

// NewRegistry registers the given exercises with default profiles.
func NewRegistry(exercises ...Exercise) (*Registry, error) {
	r := &Registry{
		exercises: make(map[string]Exercise, len(exercises)),
		profiles:  make(map[string]Profile, len(exercises)),
	}
	for _, ex := range exercises {
		if err := r.Register(ex); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry with the reference exercises.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(SymbolMemory{}, MorphMatrix{}, ExpandVision{})
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds an exercise under its name with the default profile.
func (r *Registry) Register(ex Exercise) error {
	if ex == nil {
		return fmt.Errorf("exercise is required")
	}
	name := strings.TrimSpace(ex.Name())
	if name == "" {
		return fmt.Errorf("exercise name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.exercises[name]; exists {
		return fmt.Errorf("exercise %s already registered", name)
	}
	r.exercises[name] = ex
	r.profiles[name] = DefaultProfile(name)
	return nil
}

// SetProfiles replaces the profiles of registered exercises. Unknown names
// fail the whole call.
func (r *Registry) SetProfiles(profiles map[string]Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range profiles {
		if _, ok := r.exercises[name]; !ok {
			return unknownExercise(name)
		}
	}
	for name, profile := range profiles {
		profile.Exercise = name
		r.profiles[name] = profile
	}
	return nil
}

// Lookup returns the exercise and its current profile.
func (r *Registry) Lookup(name string) (Exercise, Profile, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exercises[name]
	if !ok {
		return nil, Profile{}, unknownExercise(name)
	}
	return ex, r.profiles[name], nil
}

// Names lists registered exercises in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.exercises))
	for name := range r.exercises {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownExercise(name string) error {
	return apperrors.WithMetadata(apperrors.CodeUnknownExercise, "unknown exercise "+name, map[string]string{"Exercise": name})
}
