// Package routes maps title keywords to delivery targets.
package routes

import (
	"slices"
	"strings"
	"sync/atomic"
)

// Route binds a keyword to a target. Keywords match case-insensitively as substrings.
type Route struct {
	Keyword string `json:"keyword"`
	Target  string `json:"target"`
}

// Match is one (keyword, target) pair selected for a title.
type Match = Route

type snapshot struct {
	routes []Route
	upper  []string
}

// Table is safe for concurrent use. Readers always see one complete snapshot;
// Replace swaps it atomically.
type Table struct {
	cur atomic.Pointer[snapshot]
}

func New(rs []Route) *Table {
	t := &Table{}
	t.Replace(rs)
	return t
}

// Replace installs a new ordered route list. Entries with an empty keyword or
// target are ignored.
func (t *Table) Replace(rs []Route) {
	s := &snapshot{
		routes: make([]Route, 0, len(rs)),
		upper:  make([]string, 0, len(rs)),
	}
	for _, r := range rs {
		kw := strings.TrimSpace(r.Keyword)
		target := strings.TrimSpace(r.Target)
		if kw == "" || target == "" {
			continue
		}
		s.routes = append(s.routes, Route{Keyword: kw, Target: target})
		s.upper = append(s.upper, strings.ToUpper(kw))
	}
	t.cur.Store(s)
}

// Match returns every route whose keyword occurs in title, in configured order.
// The same target may appear more than once.
func (t *Table) Match(title string) []Match {
	s := t.cur.Load()
	if s == nil || title == "" {
		return nil
	}
	ut := strings.ToUpper(title)
	var out []Match
	for i, kw := range s.upper {
		if strings.Contains(ut, kw) {
			out = append(out, s.routes[i])
		}
	}
	return out
}

// Snapshot returns a copy of the current routes.
func (t *Table) Snapshot() []Route {
	s := t.cur.Load()
	if s == nil {
		return nil
	}
	return slices.Clone(s.routes)
}

func (t *Table) Len() int {
	s := t.cur.Load()
	if s == nil {
		return 0
	}
	return len(s.routes)
}

// Targets returns the distinct targets in first-seen order.
func (t *Table) Targets() []string {
	s := t.cur.Load()
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.routes))
	out := make([]string, 0, len(s.routes))
	for _, r := range s.routes {
		if _, ok := seen[r.Target]; ok {
			continue
		}
		seen[r.Target] = struct{}{}
		out = append(out, r.Target)
	}
	return out
}
