package difficulty

// Adjustment describes the level change one outcome caused, if any.
type Adjustment struct {
	Category string
	From     int
	To       int
}

// Changed reports whether the level moved.
func (a Adjustment) Changed() bool {
	return a.From != a.To
}

// Controller applies Record to a category map under one validated Config.
type Controller struct {
	cfg Config
}

// NewController validates cfg and returns a controller bound to it.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg}, nil
}

// Config returns the controller bounds.
func (c *Controller) Config() Config {
	return c.cfg
}

// Level returns the category level, or the initial level when the category
// has not been attempted yet.
func (c *Controller) Level(states map[string]State, category string) int {
	if state, ok := states[category]; ok {
		return state.Level
	}
	return c.cfg.InitialLevel
}

// RecordOutcome returns a copy of states with the outcome folded into
// category. The input map is never mutated.
func (c *Controller) RecordOutcome(states map[string]State, category string, outcome Outcome) (map[string]State, Adjustment) {
	current, ok := states[category]
	if !ok {
		current = NewState(c.cfg)
	}
	updated := Record(c.cfg, current, outcome)

	next := make(map[string]State, len(states)+1)
	for key, value := range states {
		next[key] = value
	}
	next[category] = updated
	return next, Adjustment{Category: category, From: current.Level, To: updated.Level}
}

// Restore clamps externally stored states into the controller bounds so a
// checkpoint written under an older profile cannot seed an invalid level.
func (c *Controller) Restore(states map[string]State) map[string]State {
	out := make(map[string]State, len(states))
	for key, value := range states {
		value.Level = clampLevel(c.cfg, value.Level)
		value.Score = clamp01(value.Score)
		out[key] = value
	}
	return out
}
