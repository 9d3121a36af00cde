// Package profiles manages generation cadence profiles loaded from embedded
// YAML. A profile shapes how a generator paces and sizes its output.
package profiles

import (
	"embed"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Profile describes one generation cadence.
type Profile struct {
	Name string `yaml:"name"`
	// Thinking controls the reasoning preamble.
	ThinkingSentences int `yaml:"thinking_sentences"`
	// Response sizing, in sentences per paragraph and paragraphs per answer.
	MinParagraphs         int `yaml:"min_paragraphs"`
	MaxParagraphs         int `yaml:"max_paragraphs"`
	SentencesPerParagraph int `yaml:"sentences_per_paragraph"`
	// Pacing between emitted words, in milliseconds.
	WordDelayMs int `yaml:"word_delay_ms"`
	// Sources attached to the finished answer.
	SourceCount int `yaml:"source_count"`
}

// WordDelay returns the inter-word pacing as a duration.
func (p *Profile) WordDelay() time.Duration {
	return time.Duration(p.WordDelayMs) * time.Millisecond
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Registry holds the loaded cadence profiles.
type Registry struct {
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewRegistry loads the embedded profile YAML.
func NewRegistry() (*Registry, error) {
	r := &Registry{profiles: make(map[string]*Profile)}

	data, err := configFiles.ReadFile("config/profiles.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles.yaml: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profiles.yaml: %w", err)
	}

	r.mu.Lock()
	for i := range file.Profiles {
		p := file.Profiles[i]
		r.profiles[p.Name] = &p
	}
	r.mu.Unlock()

	return r, nil
}

// Get returns the named profile.
func (r *Registry) Get(name string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile: %s", name)
	}
	return p, nil
}

// Names returns all loaded profile names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}
