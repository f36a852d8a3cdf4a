package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	DayTicks   int `yaml:"day_ticks"`

	// Activity durations per class, in ticks.
	Durations Durations `yaml:"durations"`

	// Orchestrator pending-queue bound per agent.
	QueueMax int `yaml:"queue_max"`

	// Minimum token overlap for fuzzy activity resolution.
	FuzzyMinOverlap int `yaml:"fuzzy_min_overlap"`

	// Default half-extent of routine movement patterns, in cells.
	RoutineExtent int `yaml:"routine_extent"`

	// Cells within which movement counts as arrived.
	MoveTolerance int `yaml:"move_tolerance"`
}

type Durations struct {
	ShortTicks  int `yaml:"short_ticks"`
	MediumTicks int `yaml:"medium_ticks"`
	LongTicks   int `yaml:"long_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      5,
		DayTicks:        6000,
		Durations: Durations{
			ShortTicks:  40,
			MediumTicks: 120,
			LongTicks:   300,
		},
		QueueMax:        8,
		FuzzyMinOverlap: 2,
		RoutineExtent:   6,
		MoveTolerance:   1,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.TickRateHz <= 0 || t.DayTicks <= 0 {
		return t, fmt.Errorf("tuning.yaml: tick_rate_hz and day_ticks must be positive")
	}
	if t.QueueMax <= 0 {
		t.QueueMax = Defaults().QueueMax
	}
	if t.MoveTolerance < 1 {
		t.MoveTolerance = 1
	}
	return t, nil
}
