package envelope

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownExercise = errors.New("unknown exercise")

var aliases = map[string]string{
	"pushup":  "push-up",
	"push up": "push-up",
	"pullup":  "pull-up",
	"pull up": "pull-up",
	"squats":  "squat",
	"lunges":  "lunge",
}

// Normalize canonicalises an exercise name for lookup.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Registry maps exercise names to envelopes. Populate it during startup;
// lookups are safe to share once registration is done.
type Registry struct {
	envelopes map[string]*Envelope
}

func NewRegistry() *Registry {
	return &Registry{envelopes: make(map[string]*Envelope)}
}

// Default returns a registry holding the built-in exercises.
func Default() *Registry {
	r := NewRegistry()
	for _, e := range builtin() {
		if err := r.Register(e); err != nil {
			panic(fmt.Sprintf("builtin envelope: %v", err))
		}
	}
	return r
}

// Register validates e and stores a copy under its normalized name, replacing
// any envelope of the same name. The caller keeps ownership of e.
func (r *Registry) Register(e *Envelope) error {
	c, err := prepare(e)
	if err != nil {
		return err
	}
	r.envelopes[c.Name] = c
	return nil
}

func prepare(e *Envelope) (*Envelope, error) {
	if e == nil {
		return nil, fmt.Errorf("nil envelope")
	}
	c := e.clone()
	c.Name = Normalize(c.Name)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get looks an exercise up by name.
func (r *Registry) Get(name string) (*Envelope, error) {
	e, ok := r.envelopes[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExercise, name)
	}
	return e, nil
}

// Names returns every registered exercise, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.envelopes))
	for n := range r.envelopes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type envelopeFile struct {
	Exercises []*Envelope `yaml:"exercises"`
}

// LoadFile registers every envelope in a YAML file. Entries override
// built-ins with the same name. Nothing is registered if any entry is invalid.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read envelopes file: %w", err)
	}
	return r.Load(data)
}

// Load is LoadFile for in-memory YAML.
func (r *Registry) Load(data []byte) (int, error) {
	var f envelopeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse envelopes: %w", err)
	}
	prepared := make([]*Envelope, 0, len(f.Exercises))
	for _, e := range f.Exercises {
		if e == nil {
			return 0, fmt.Errorf("empty envelope entry")
		}
		c, err := prepare(e)
		if err != nil {
			return 0, fmt.Errorf("invalid envelope: %w", err)
		}
		prepared = append(prepared, c)
	}
	for _, c := range prepared {
		r.envelopes[c.Name] = c
	}
	return len(prepared), nil
}
