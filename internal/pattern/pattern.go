// Package pattern matches person email addresses against configured
// allow- and ignore-lists.
//
// A pattern matches when the regular expression matches at the start of the
// address, not necessarily the whole address. "admin@" therefore covers
// every address beginning with admin@, while "@example.com" covers nothing.
package pattern

import (
	"fmt"
	"regexp"
)

// List is an ordered set of compiled email patterns.
// The zero value matches nothing.
type List struct {
	patterns []*regexp.Regexp
}

// Compile compiles exprs into a List.
// Each expression is anchored at the start of the matched address.
func Compile(exprs []string) (*List, error) {
	l := &List{}
	for _, expr := range exprs {
		re, err := regexp.Compile(`\A(?:` + expr + `)`)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
		}
		l.patterns = append(l.patterns, re)
	}
	return l, nil
}

// MustCompile is like Compile but panics on invalid patterns.
// Intended for tests and fixed literals.
func MustCompile(exprs []string) *List {
	l, err := Compile(exprs)
	if err != nil {
		panic(err)
	}
	return l
}

// Match reports whether any pattern matches the start of email.
func (l *List) Match(email string) bool {
	if l == nil {
		return false
	}
	for _, re := range l.patterns {
		if re.MatchString(email) {
			return true
		}
	}
	return false
}

// Empty reports whether the list has no patterns.
func (l *List) Empty() bool {
	return l == nil || len(l.patterns) == 0
}
