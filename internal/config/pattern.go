package config

import (
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is a compiled regular expression that marshals as its source text.
type Pattern struct {
	*regexp.Regexp
}

// MustPattern compiles expr and panics if it is invalid.
func MustPattern(expr string) Pattern {
	return Pattern{Regexp: regexp.MustCompile(expr)}
}

// Match reports whether s matches. A zero Pattern matches nothing.
func (p Pattern) Match(s string) bool {
	if p.Regexp == nil {
		return false
	}
	return p.MatchString(s)
}

func (p Pattern) IsZero() bool {
	return p.Regexp == nil
}

func (p Pattern) MarshalYAML() (any, error) {
	if p.Regexp == nil {
		return nil, nil
	}
	return p.String(), nil
}

func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	var expr string
	if err := node.Decode(&expr); err != nil {
		return err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return err
	}
	p.Regexp = re
	return nil
}
