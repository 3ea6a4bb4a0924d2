// Package checklist holds the Fletcher APK checklist definition. The
// definition is embedded as YAML and parsed once on first use.
package checklist

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed fletcher.yaml
var fletcherYAML []byte

// Item is one checkable line.
type Item struct {
	Key   string `yaml:"key"   json:"key"`
	Label string `yaml:"label" json:"label"`
}

// Section groups items under a title.
type Section struct {
	Key   string `yaml:"key"   json:"key"`
	Title string `yaml:"title" json:"title"`
	Items []Item `yaml:"items" json:"items"`
}

// FlatItem is an item with its section attached.
type FlatItem struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	Section      string `json:"section"`
	SectionTitle string `json:"section_title"`
	Position     int    `json:"position"`
}

// Checklist is an ordered list of sections.
type Checklist struct {
	Sections []Section `yaml:"sections" json:"sections"`
}

// Parse decodes a checklist and rejects empty sections and repeated keys.
func Parse(b []byte) (*Checklist, error) {
	var c Checklist
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("checklist: %w", err)
	}
	if len(c.Sections) == 0 {
		return nil, fmt.Errorf("checklist: no sections")
	}
	seenSection := map[string]bool{}
	seenItem := map[string]bool{}
	for _, s := range c.Sections {
		if s.Key == "" || seenSection[s.Key] {
			return nil, fmt.Errorf("checklist: invalid or repeated section key %q", s.Key)
		}
		seenSection[s.Key] = true
		for _, it := range s.Items {
			if it.Key == "" || seenItem[it.Key] {
				return nil, fmt.Errorf("checklist: invalid or repeated item key %q", it.Key)
			}
			seenItem[it.Key] = true
		}
	}
	return &c, nil
}

var (
	fletcherOnce sync.Once
	fletcher     *Checklist
)

// Fletcher returns the embedded APK checklist. It panics if the embedded
// definition is malformed.
func Fletcher() *Checklist {
	fletcherOnce.Do(func() {
		c, err := Parse(fletcherYAML)
		if err != nil {
			panic(err)
		}
		fletcher = c
	})
	return fletcher
}

// Total returns the number of items across all sections.
func (c *Checklist) Total() int {
	n := 0
	for _, s := range c.Sections {
		n += len(s.Items)
	}
	return n
}

// Flatten returns every item in order with its section.
func (c *Checklist) Flatten() []FlatItem {
	out := make([]FlatItem, 0, c.Total())
	for _, s := range c.Sections {
		for _, it := range s.Items {
			out = append(out, FlatItem{
				Key:          it.Key,
				Label:        it.Label,
				Section:      s.Key,
				SectionTitle: s.Title,
				Position:     len(out),
			})
		}
	}
	return out
}

// HasSection reports whether key names a section.
func (c *Checklist) HasSection(key string) bool {
	for _, s := range c.Sections {
		if s.Key == key {
			return true
		}
	}
	return false
}
