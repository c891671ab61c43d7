// Package catalog holds the static data the daemon speaks and serves:
// encouragement messages, voice models with their style ids, the sample
// phrase, mode labels and character images.
package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// Style is one selectable voice of a character. ID is the speaker id
// sent to the synthesis endpoint.
type Style struct {
	ID   int    `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// VoiceModel is a character and its styles.
type VoiceModel struct {
	Name   string  `yaml:"name" json:"name"`
	Styles []Style `yaml:"styles" json:"styles"`
}

// Catalog is immutable once loaded; reloads swap in a new value.
type Catalog struct {
	SamplePhrase string            `yaml:"sample_phrase" json:"samplePhrase"`
	DefaultMode  string            `yaml:"default_mode" json:"defaultMode"`
	Modes        map[string]string `yaml:"modes" json:"modes"`
	Messages     []string          `yaml:"messages" json:"messages"`
	Images       map[string]string `yaml:"images" json:"-"`
	VoiceModels  []VoiceModel      `yaml:"voice_models" json:"voiceModels"`
}

// Validate rejects catalogs the scheduler cannot run with.
func (c *Catalog) Validate() error {
	var errs []error
	if len(c.Messages) == 0 {
		errs = append(errs, errors.New("catalog has no messages"))
	}
	for i, m := range c.Messages {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("message %d is blank", i))
		}
	}
	if strings.TrimSpace(c.SamplePhrase) == "" {
		errs = append(errs, errors.New("sample_phrase is required"))
	}
	if _, ok := c.Modes[c.DefaultMode]; !ok {
		errs = append(errs, fmt.Errorf("default_mode %q has no label", c.DefaultMode))
	}

	seen := make(map[int]string)
	for _, vm := range c.VoiceModels {
		if vm.Name == "" {
			errs = append(errs, errors.New("voice model without name"))
		}
		for _, s := range vm.Styles {
			if s.ID < 0 {
				errs = append(errs, fmt.Errorf("%s/%s: negative style id %d", vm.Name, s.Name, s.ID))
			}
			if owner, dup := seen[s.ID]; dup {
				errs = append(errs, fmt.Errorf("style id %d used by both %s and %s", s.ID, owner, vm.Name))
			}
			seen[s.ID] = vm.Name
		}
	}
	return errors.Join(errs...)
}

// RandomMessage picks a message uniformly. rng may be nil.
func (c *Catalog) RandomMessage(rng *rand.Rand) (string, error) {
	if len(c.Messages) == 0 {
		return "", errors.New("catalog has no messages")
	}
	if rng == nil {
		return c.Messages[rand.Intn(len(c.Messages))], nil
	}
	return c.Messages[rng.Intn(len(c.Messages))], nil
}

// FindBySpeaker returns the character and style owning a speaker id.
func (c *Catalog) FindBySpeaker(id int) (VoiceModel, Style, bool) {
	for _, vm := range c.VoiceModels {
		for _, s := range vm.Styles {
			if s.ID == id {
				return vm, s, true
			}
		}
	}
	return VoiceModel{}, Style{}, false
}

// FindStyle looks a style up by character and style name.
func (c *Catalog) FindStyle(character, style string) (Style, bool) {
	for _, vm := range c.VoiceModels {
		if vm.Name != character {
			continue
		}
		for _, s := range vm.Styles {
			if s.Name == style {
				return s, true
			}
		}
	}
	return Style{}, false
}

// ModeLabel returns the display label for a mode value.
func (c *Catalog) ModeLabel(value string) (string, bool) {
	label, ok := c.Modes[value]
	return label, ok
}

// ImageURIs maps character names to image URIs under base.
func (c *Catalog) ImageURIs(base string) map[string]string {
	out := make(map[string]string, len(c.Images))
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	for name, file := range c.Images {
		out[name] = base + file
	}
	return out
}
