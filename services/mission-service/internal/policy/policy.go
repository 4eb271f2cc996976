package policy

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/missionwindow/libs/config"
	"gopkg.in/yaml.v3"
)

// Policy holds the operational rules the window engine applies. It is always
// injected; nothing downstream hard-codes these values.
type Policy struct {
	PreBuffer       time.Duration
	PostBuffer      time.Duration
	Gap             time.Duration
	MinMission      time.Duration
	SlotGranularity time.Duration
	DayStartHour    int
	DayEndHour      int
}

func Default() Policy {
	return Policy{
		PreBuffer:       3 * time.Hour,
		PostBuffer:      3 * time.Hour,
		Gap:             3 * time.Hour,
		MinMission:      time.Minute,
		SlotGranularity: 30 * time.Minute,
		DayStartHour:    6,
		DayEndHour:      24,
	}
}

// ConfigurationError reports a policy value that is out of range.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid policy %s: %s", e.Field, e.Reason)
}

func (p Policy) Validate() error {
	switch {
	case p.PreBuffer < 0:
		return &ConfigurationError{Field: "preBufferHours", Reason: "must not be negative"}
	case p.PostBuffer < 0:
		return &ConfigurationError{Field: "postBufferHours", Reason: "must not be negative"}
	case p.Gap < 0:
		return &ConfigurationError{Field: "gapHours", Reason: "must not be negative"}
	case p.MinMission <= 0:
		return &ConfigurationError{Field: "minMissionMinutes", Reason: "must be positive"}
	case p.SlotGranularity <= 0:
		return &ConfigurationError{Field: "slotGranularityMinutes", Reason: "must be positive"}
	case p.DayStartHour < 0 || p.DayStartHour > 23:
		return &ConfigurationError{Field: "dayStartHour", Reason: "must be within 0..23"}
	case p.DayEndHour < 1 || p.DayEndHour > 24:
		return &ConfigurationError{Field: "dayEndHour", Reason: "must be within 1..24"}
	case p.DayStartHour >= p.DayEndHour:
		return &ConfigurationError{Field: "dayEndHour", Reason: "must be after dayStartHour"}
	}
	return nil
}

// Options is the external, unit-bearing form of a Policy. Field names follow
// the recognized option names.
type Options struct {
	PreBufferHours         float64 `yaml:"preBufferHours"`
	PostBufferHours        float64 `yaml:"postBufferHours"`
	GapHours               float64 `yaml:"gapHours"`
	MinMissionMinutes      float64 `yaml:"minMissionMinutes"`
	SlotGranularityMinutes float64 `yaml:"slotGranularityMinutes"`
	DayStartHour           int     `yaml:"dayStartHour"`
	DayEndHour             int     `yaml:"dayEndHour"`
}

func DefaultOptions() Options {
	return Options{
		PreBufferHours:         3,
		PostBufferHours:        3,
		GapHours:               3,
		MinMissionMinutes:      1,
		SlotGranularityMinutes: 30,
		DayStartHour:           6,
		DayEndHour:             24,
	}
}

// Policy converts and validates the options.
func (o Options) Policy() (Policy, error) {
	fields := []struct {
		name string
		v    float64
	}{
		{"preBufferHours", o.PreBufferHours},
		{"postBufferHours", o.PostBufferHours},
		{"gapHours", o.GapHours},
		{"minMissionMinutes", o.MinMissionMinutes},
		{"slotGranularityMinutes", o.SlotGranularityMinutes},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Policy{}, &ConfigurationError{Field: f.name, Reason: "must be finite"}
		}
	}
	p := Policy{
		PreBuffer:       hours(o.PreBufferHours),
		PostBuffer:      hours(o.PostBufferHours),
		Gap:             hours(o.GapHours),
		MinMission:      minutes(o.MinMissionMinutes),
		SlotGranularity: minutes(o.SlotGranularityMinutes),
		DayStartHour:    o.DayStartHour,
		DayEndHour:      o.DayEndHour,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// FromEnv reads the policy from environment variables, defaulting each
// option independently.
func FromEnv() (Policy, error) {
	o := DefaultOptions()
	var err error
	if o.PreBufferHours, err = config.Float("PRE_BUFFER_HOURS", o.PreBufferHours); err != nil {
		return Policy{}, err
	}
	if o.PostBufferHours, err = config.Float("POST_BUFFER_HOURS", o.PostBufferHours); err != nil {
		return Policy{}, err
	}
	if o.GapHours, err = config.Float("GAP_HOURS", o.GapHours); err != nil {
		return Policy{}, err
	}
	if o.MinMissionMinutes, err = config.Float("MIN_MISSION_MINUTES", o.MinMissionMinutes); err != nil {
		return Policy{}, err
	}
	if o.SlotGranularityMinutes, err = config.Float("SLOT_GRANULARITY_MINUTES", o.SlotGranularityMinutes); err != nil {
		return Policy{}, err
	}
	if o.DayStartHour, err = config.Int("DAY_START_HOUR", o.DayStartHour); err != nil {
		return Policy{}, err
	}
	if o.DayEndHour, err = config.Int("DAY_END_HOUR", o.DayEndHour); err != nil {
		return Policy{}, err
	}
	return o.Policy()
}

// LoadFile reads a YAML policy file. Options missing from the file keep their
// defaults. An empty path yields the default policy.
func LoadFile(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	o := DefaultOptions()
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	return o.Policy()
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
