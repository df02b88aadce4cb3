// Package envelope holds the biomechanical envelope of each supported
// exercise: acceptable joint angle ranges and composite form rules.
package envelope

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"form-coach/internal/models"
)

// AngleRange bounds a joint angle. The ideal band sits inside the acceptable
// band.
type AngleRange struct {
	MinIdeal      float64 `yaml:"min_ideal" json:"min_ideal"`
	MaxIdeal      float64 `yaml:"max_ideal" json:"max_ideal"`
	MinAcceptable float64 `yaml:"min_acceptable" json:"min_acceptable"`
	MaxAcceptable float64 `yaml:"max_acceptable" json:"max_acceptable"`
}

// IsValid reports whether angle lies within the acceptable band.
func (r AngleRange) IsValid(angle float64) bool {
	return angle >= r.MinAcceptable && angle <= r.MaxAcceptable
}

// DeviationSeverity is 0 inside the ideal band, 1 at an acceptable bound and
// grows past 1 beyond it: the overshoot past the ideal bound divided by the
// acceptable margin on that side. A side without margin reports 1+overshoot.
func (r AngleRange) DeviationSeverity(angle float64) float64 {
	var over, margin float64
	switch {
	case angle < r.MinIdeal:
		over, margin = r.MinIdeal-angle, r.MinIdeal-r.MinAcceptable
	case angle > r.MaxIdeal:
		over, margin = angle-r.MaxIdeal, r.MaxAcceptable-r.MaxIdeal
	default:
		return 0
	}
	if margin <= 0 {
		return 1 + over
	}
	return over / margin
}

// Acceptable returns the acceptable band as bounds.
func (r AngleRange) Acceptable() models.Bounds {
	return models.Bounds{Min: r.MinAcceptable, Max: r.MaxAcceptable}
}

func (r AngleRange) validate() error {
	for _, v := range []float64{r.MinIdeal, r.MaxIdeal, r.MinAcceptable, r.MaxAcceptable} {
		if math.IsNaN(v) || v < 0 || v > 180 {
			return fmt.Errorf("bound %v outside [0,180]", v)
		}
	}
	if !(r.MinAcceptable <= r.MinIdeal && r.MinIdeal <= r.MaxIdeal && r.MaxIdeal <= r.MaxAcceptable) {
		return fmt.Errorf("want min_acceptable <= min_ideal <= max_ideal <= max_acceptable, got %v/%v/%v/%v",
			r.MinAcceptable, r.MinIdeal, r.MaxIdeal, r.MaxAcceptable)
	}
	return nil
}

// RuleClass groups form rules by how much a violation matters.
type RuleClass string

const (
	ClassSafety    RuleClass = "safety"
	ClassTechnique RuleClass = "technique"
	ClassWarning   RuleClass = "warning"
)

// Severity maps the class onto an issue severity.
func (c RuleClass) Severity() models.Severity {
	switch c {
	case ClassSafety:
		return models.SeverityCritical
	case ClassTechnique:
		return models.SeverityWarning
	default:
		return models.SeverityMinor
	}
}

// IssueType maps the class onto an issue type.
func (c RuleClass) IssueType() models.IssueType {
	switch c {
	case ClassSafety:
		return models.IssueSafety
	case ClassTechnique:
		return models.IssueTechnique
	default:
		return models.IssueMinor
	}
}

func (c RuleClass) valid() bool {
	return c == ClassSafety || c == ClassTechnique || c == ClassWarning
}

type ConditionKind string

const (
	// KindBelow holds when Key < Threshold.
	KindBelow ConditionKind = "below"
	// KindAbove holds when Key > Threshold.
	KindAbove ConditionKind = "above"
	// KindOutside holds when Key is outside [Min, Max].
	KindOutside ConditionKind = "outside"
	// KindAsymmetry holds when |Key - Other| > Threshold.
	KindAsymmetry ConditionKind = "asymmetry"
)

// Condition is one predicate over the angle map.
type Condition struct {
	Kind      ConditionKind   `yaml:"kind" json:"kind"`
	Key       models.AngleKey `yaml:"key" json:"key"`
	Other     models.AngleKey `yaml:"other,omitempty" json:"other,omitempty"`
	Threshold float64         `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Min       float64         `yaml:"min,omitempty" json:"min,omitempty"`
	Max       float64         `yaml:"max,omitempty" json:"max,omitempty"`
}

func Below(key models.AngleKey, t float64) Condition {
	return Condition{Kind: KindBelow, Key: key, Threshold: t}
}

func Above(key models.AngleKey, t float64) Condition {
	return Condition{Kind: KindAbove, Key: key, Threshold: t}
}

func Outside(key models.AngleKey, min, max float64) Condition {
	return Condition{Kind: KindOutside, Key: key, Min: min, Max: max}
}

func Asymmetry(a, b models.AngleKey, maxDiff float64) Condition {
	return Condition{Kind: KindAsymmetry, Key: a, Other: b, Threshold: maxDiff}
}

func (c Condition) keys() []models.AngleKey {
	if c.Kind == KindAsymmetry {
		return []models.AngleKey{c.Key, c.Other}
	}
	return []models.AngleKey{c.Key}
}

// holds assumes every key is present.
func (c Condition) holds(angles models.Angles) bool {
	v := angles[c.Key]
	switch c.Kind {
	case KindBelow:
		return v < c.Threshold
	case KindAbove:
		return v > c.Threshold
	case KindOutside:
		return v < c.Min || v > c.Max
	case KindAsymmetry:
		return math.Abs(v-angles[c.Other]) > c.Threshold
	}
	return false
}

func (c Condition) validate() error {
	switch c.Kind {
	case KindBelow, KindAbove:
	case KindOutside:
		if c.Min > c.Max {
			return fmt.Errorf("outside: min %v > max %v", c.Min, c.Max)
		}
	case KindAsymmetry:
		if c.Threshold < 0 {
			return fmt.Errorf("asymmetry: negative threshold %v", c.Threshold)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	for _, k := range c.keys() {
		if !k.IsKnown() {
			return fmt.Errorf("%s: unknown angle key %q", c.Kind, k)
		}
	}
	return nil
}

// FormRule is violated when every condition holds.
type FormRule struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Class       RuleClass   `yaml:"class" json:"class"`
	When        []Condition `yaml:"when" json:"when"`
}

// RequiredKeys lists the angles the rule reads, without duplicates.
func (r FormRule) RequiredKeys() []models.AngleKey {
	seen := make(map[models.AngleKey]bool)
	var keys []models.AngleKey
	for _, c := range r.When {
		for _, k := range c.keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// IsViolated never fires on missing data: any absent required key makes the
// rule pass.
func (r FormRule) IsViolated(angles models.Angles) bool {
	if len(r.When) == 0 {
		return false
	}
	for _, k := range r.RequiredKeys() {
		if _, ok := angles[k]; !ok {
			return false
		}
	}
	for _, c := range r.When {
		if !c.holds(angles) {
			return false
		}
	}
	return true
}

func (r FormRule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule without name")
	}
	if !r.Class.valid() {
		return fmt.Errorf("rule %s: unknown class %q", r.Name, r.Class)
	}
	if len(r.When) == 0 {
		return fmt.Errorf("rule %s: no conditions", r.Name)
	}
	for _, c := range r.When {
		if err := c.validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

// Envelope describes one exercise.
type Envelope struct {
	Name              string                         `yaml:"name" json:"name"`
	Landmarks         []models.JointName             `yaml:"landmarks" json:"landmarks"`
	TracksRepetitions bool                           `yaml:"tracks_repetitions" json:"tracks_repetitions"`
	Ranges            map[models.AngleKey]AngleRange `yaml:"ranges" json:"ranges"`
	Rules             []FormRule                     `yaml:"rules" json:"rules"`
}

func (e *Envelope) clone() *Envelope {
	c := *e
	c.Landmarks = slices.Clone(e.Landmarks)
	c.Ranges = maps.Clone(e.Ranges)
	c.Rules = slices.Clone(e.Rules)
	for i := range c.Rules {
		c.Rules[i].When = slices.Clone(c.Rules[i].When)
	}
	return &c
}

// Validate checks ranges, rules and key names.
func (e *Envelope) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("envelope without name")
	}
	for key, r := range e.Ranges {
		if !key.IsKnown() {
			return fmt.Errorf("%s: unknown angle key %q", e.Name, key)
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("%s: range %s: %w", e.Name, key, err)
		}
	}
	names := make(map[string]bool, len(e.Rules))
	for _, rule := range e.Rules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		if names[rule.Name] {
			return fmt.Errorf("%s: duplicate rule %s", e.Name, rule.Name)
		}
		names[rule.Name] = true
	}
	for _, j := range e.Landmarks {
		if !j.IsKnown() {
			return fmt.Errorf("%s: unknown landmark %q", e.Name, j)
		}
	}
	return nil
}
