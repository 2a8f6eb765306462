// Package ontology parses the declarative routing vocabulary (intents, anti-token
// groups, buckets) and the per-entity contracts the SQL builder and presenter use.
package ontology

import (
	"bytes"
	"fmt"
	"regexp"

	"araquem/pkg/textnorm"

	"gopkg.in/yaml.v3"
)

// ValidationError reports a malformed ontology or contract file.
type ValidationError struct {
	File   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ontology %s: %s: %s", e.File, e.Field, e.Reason)
}

type Weights struct {
	Token  float64 `yaml:"token"`
	Phrase float64 `yaml:"phrase"`
}

type TokenizeConfig struct {
	Split string `yaml:"split"`
}

type LiteralSet struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type Intent struct {
	Name       string     `yaml:"name"`
	Tokens     LiteralSet `yaml:"tokens"`
	Phrases    LiteralSet `yaml:"phrases"`
	AntiTokens []string   `yaml:"anti_tokens"`
	Entities   []string   `yaml:"entities"`
}

// DefaultEntity is the first declared candidate.
func (i Intent) DefaultEntity() string {
	if len(i.Entities) == 0 {
		return ""
	}
	return i.Entities[0]
}

// BucketRule is evaluated only over identifiers, never over free text.
type BucketRule struct {
	MinTickers *int `yaml:"min_tickers"`
	MaxTickers *int `yaml:"max_tickers"`
}

// Matches reports whether a question carrying tickerCount symbols falls in the rule.
func (r BucketRule) Matches(tickerCount int) bool {
	if r.MinTickers == nil && r.MaxTickers == nil {
		return false
	}
	if r.MinTickers != nil && tickerCount < *r.MinTickers {
		return false
	}
	if r.MaxTickers != nil && tickerCount > *r.MaxTickers {
		return false
	}
	return true
}

type Bucket struct {
	Name     string     `yaml:"name"`
	When     BucketRule `yaml:"when"`
	Entities []string   `yaml:"entities"`
}

// Contains reports whether entity belongs to the bucket.
func (b Bucket) Contains(entity string) bool {
	for _, e := range b.Entities {
		if e == entity {
			return true
		}
	}
	return false
}

type Ontology struct {
	Version    int                 `yaml:"version"`
	Tokenize   TokenizeConfig      `yaml:"tokenize"`
	Weights    Weights             `yaml:"weights"`
	AntiTokens map[string][]string `yaml:"anti_tokens"`
	Buckets    []Bucket            `yaml:"buckets"`
	Intents    []Intent            `yaml:"intents"`

	splitRe *regexp.Regexp
}

// SplitRegexp is the compiled tokenizer.
func (o *Ontology) SplitRegexp() *regexp.Regexp { return o.splitRe }

// Intent looks an intent up by name.
func (o *Ontology) Intent(name string) (Intent, bool) {
	for _, it := range o.Intents {
		if it.Name == name {
			return it, true
		}
	}
	return Intent{}, false
}

// Bucket looks a bucket up by name.
func (o *Ontology) Bucket(name string) (Bucket, bool) {
	for _, b := range o.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return Bucket{}, false
}

// ResolveBucket returns the first bucket whose rule matches.
func (o *Ontology) ResolveBucket(tickerCount int) (Bucket, bool) {
	for _, b := range o.Buckets {
		if b.When.Matches(tickerCount) {
			return b, true
		}
	}
	return Bucket{}, false
}

// Parse decodes and validates an ontology document. knownEntities, when not nil,
// is checked against every entity an intent or bucket references.
func Parse(file string, data []byte, knownEntities map[string]bool) (*Ontology, error) {
	var o Ontology
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	if o.Weights.Token == 0 {
		o.Weights.Token = 1.0
	}
	if o.Weights.Phrase == 0 {
		o.Weights.Phrase = 2.0
	}
	split := o.Tokenize.Split
	if split == "" {
		split = textnorm.DefaultSplit
	}
	re, err := regexp.Compile(split)
	if err != nil {
		return nil, &ValidationError{File: file, Field: "tokenize.split", Reason: err.Error()}
	}
	o.splitRe = re

	if err := o.validate(file, knownEntities); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Ontology) validate(file string, knownEntities map[string]bool) error {
	if len(o.Intents) == 0 {
		return &ValidationError{File: file, Field: "intents", Reason: "at least one intent is required"}
	}
	if o.Weights.Token < 0 || o.Weights.Phrase < 0 {
		return &ValidationError{File: file, Field: "weights", Reason: "weights must be non-negative"}
	}

	for group, words := range o.AntiTokens {
		if err := checkList(file, "anti_tokens."+group, words); err != nil {
			return err
		}
	}

	names := make(map[string]bool)
	for _, it := range o.Intents {
		field := "intents." + it.Name
		if it.Name == "" {
			return &ValidationError{File: file, Field: "intents", Reason: "intent without name"}
		}
		if names[it.Name] {
			return &ValidationError{File: file, Field: field, Reason: "duplicate intent"}
		}
		names[it.Name] = true

		if len(it.Entities) == 0 {
			return &ValidationError{File: file, Field: field + ".entities", Reason: "at least one entity is required"}
		}
		for _, set := range []struct {
			name string
			ls   LiteralSet
		}{{"tokens", it.Tokens}, {"phrases", it.Phrases}} {
			if err := checkList(file, field+"."+set.name+".include", set.ls.Include); err != nil {
				return err
			}
			if err := checkList(file, field+"."+set.name+".exclude", set.ls.Exclude); err != nil {
				return err
			}
			inc := make(map[string]bool, len(set.ls.Include))
			for _, w := range set.ls.Include {
				inc[w] = true
			}
			for _, w := range set.ls.Exclude {
				if inc[w] {
					return &ValidationError{File: file, Field: field + "." + set.name, Reason: fmt.Sprintf("%q is both included and excluded", w)}
				}
			}
		}
		for _, g := range it.AntiTokens {
			if _, ok := o.AntiTokens[g]; !ok {
				return &ValidationError{File: file, Field: field + ".anti_tokens", Reason: fmt.Sprintf("unknown anti-token group %q", g)}
			}
		}
		if err := checkEntities(file, field+".entities", it.Entities, knownEntities); err != nil {
			return err
		}
	}

	buckets := make(map[string]bool)
	for _, b := range o.Buckets {
		if b.Name == "" || buckets[b.Name] {
			return &ValidationError{File: file, Field: "buckets", Reason: fmt.Sprintf("missing or duplicate bucket name %q", b.Name)}
		}
		buckets[b.Name] = true
		if err := checkEntities(file, "buckets."+b.Name, b.Entities, knownEntities); err != nil {
			return err
		}
	}
	return nil
}

func checkList(file, field string, words []string) error {
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if !textnorm.IsCanonicalLiteral(w) {
			return &ValidationError{File: file, Field: field, Reason: fmt.Sprintf("%q must be lowercase ASCII without accents", w)}
		}
		if seen[w] {
			return &ValidationError{File: file, Field: field, Reason: fmt.Sprintf("duplicate literal %q", w)}
		}
		seen[w] = true
	}
	return nil
}

func checkEntities(file, field string, entities []string, known map[string]bool) error {
	seen := make(map[string]bool)
	for _, e := range entities {
		if seen[e] {
			return &ValidationError{File: file, Field: field, Reason: fmt.Sprintf("duplicate entity %q", e)}
		}
		seen[e] = true
		if known != nil && !known[e] {
			return &ValidationError{File: file, Field: field, Reason: fmt.Sprintf("unknown entity %q", e)}
		}
	}
	return nil
}
