// Package rules matches alert events against user-defined rules and renders
// the actions of every rule that matches.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"alerthub/internal/models"
)

const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpContains = "contains"
	OpRegex    = "regex"
	OpIn       = "in"
)

var operators = map[string]bool{OpEq: true, OpNeq: true, OpContains: true, OpRegex: true, OpIn: true}

// ActionTypes lists the action types a rule may declare.
var ActionTypes = map[string]bool{"email": true, "webhook": true}

type condition struct {
	path  string
	op    string
	value any
	re    *regexp.Regexp // nil for a regex condition whose pattern did not compile
}

// Compiled is a rule prepared for repeated evaluation. A rule that failed
// structural checks compiles to one that never matches.
type Compiled struct {
	Rule       models.Rule
	conditions []condition
	err        error
}

// Err reports why the rule can never match, or nil.
func (c *Compiled) Err() error {
	return c.err
}

// Compile checks operators and paths and compiles regex patterns once.
// An operator outside the closed set, or an empty path, disables the whole
// rule. A pattern that does not compile only fails its own condition.
func Compile(rule models.Rule) *Compiled {
	c := &Compiled{Rule: rule, conditions: make([]condition, 0, len(rule.Conditions))}
	for i, cond := range rule.Conditions {
		op := cond.Op
		if op == "" {
			op = OpEq
		}
		if !operators[op] {
			c.err = fmt.Errorf("condition %d: unknown operator %q", i, cond.Op)
			return c
		}
		if strings.TrimSpace(cond.Path) == "" {
			c.err = fmt.Errorf("condition %d: empty path", i)
			return c
		}
		cc := condition{path: cond.Path, op: op, value: cond.Value}
		if op == OpRegex {
			cc.re, _ = regexp.Compile(textOf(cond.Value))
		}
		c.conditions = append(c.conditions, cc)
	}
	return c
}

// Validate rejects rules the engine would silently ignore or only partly
// honour: bad operators, empty paths, broken patterns and unknown actions.
func Validate(rule models.Rule) error {
	var errs []error
	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	for i, cond := range rule.Conditions {
		op := cond.Op
		if op == "" {
			op = OpEq
		}
		if !operators[op] {
			errs = append(errs, fmt.Errorf("condition %d: unknown operator %q", i, cond.Op))
		}
		if strings.TrimSpace(cond.Path) == "" {
			errs = append(errs, fmt.Errorf("condition %d: empty path", i))
		}
		switch op {
		case OpRegex:
			if _, err := regexp.Compile(textOf(cond.Value)); err != nil {
				errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
			}
		case OpIn:
			if _, ok := asList(cond.Value); !ok {
				errs = append(errs, fmt.Errorf("condition %d: value of %q must be a list", i, OpIn))
			}
		}
	}
	for i, action := range rule.Actions {
		if !ActionTypes[action.Type()] {
			errs = append(errs, fmt.Errorf("action %d: unknown type %q", i, action.Type()))
		}
	}
	return errors.Join(errs...)
}

// Match reports whether every condition holds. A rule without conditions
// matches everything.
func (c *Compiled) Match(attrs map[string]any) bool {
	if c.err != nil {
		return false
	}
	for _, cond := range c.conditions {
		if !cond.holds(attrs) {
			return false
		}
	}
	return true
}

func (c condition) holds(attrs map[string]any) bool {
	actual, ok := Lookup(attrs, c.path)
	if !ok {
		return false
	}
	switch c.op {
	case OpEq:
		return equal(actual, c.value)
	case OpNeq:
		return !equal(actual, c.value)
	case OpContains:
		return strings.Contains(textOf(actual), textOf(c.value))
	case OpRegex:
		return c.re != nil && c.re.MatchString(textOf(actual))
	case OpIn:
		list, ok := asList(c.value)
		if !ok {
			return false
		}
		for _, item := range list {
			if equal(actual, item) {
				return true
			}
		}
		return false
	}
	return false
}
