// Package ledger tracks resolved ambiguous terms and their confirmation state.
package ledger

import (
	"fmt"
	"sort"
	"sync"
)

// Confidence tiers for an automatically resolved term.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// TermResolution is one resolved ambiguous term from source resolution.
// Created by the Source Resolver; mutated only through Confirm/Correct.
type TermResolution struct {
	Term       string `json:"term" yaml:"term"`
	Answer     string `json:"answer" yaml:"answer"`
	Confidence string `json:"confidence" yaml:"confidence"`
	FoundIn    string `json:"found_in,omitempty" yaml:"found_in,omitempty"`
	Confirmed  bool   `json:"confirmed" yaml:"confirmed"`
	Correction string `json:"correction,omitempty" yaml:"correction,omitempty"`
}

// EffectiveAnswer returns the user's correction when present, otherwise the
// resolver's answer.
func (r TermResolution) EffectiveAnswer() string {
	if r.Correction != "" {
		return r.Correction
	}
	return r.Answer
}

// Ledger owns the term resolutions for one workflow session.
type Ledger struct {
	mu    sync.Mutex
	terms map[string]*TermResolution
	order []string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{terms: make(map[string]*TermResolution)}
}

// Replace swaps in a fresh set of resolutions, discarding prior confirmation
// state. Used when source resolution is (re)run.
func (l *Ledger) Replace(resolutions []TermResolution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.terms = make(map[string]*TermResolution, len(resolutions))
	l.order = l.order[:0]
	for _, r := range resolutions {
		cp := r
		l.terms[r.Term] = &cp
		l.order = append(l.order, r.Term)
	}
}

// Confirm marks a term's resolution as confirmed by the user.
func (l *Ledger) Confirm(term string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.terms[term]
	if !ok {
		return fmt.Errorf("unknown term %q", term)
	}
	r.Confirmed = true
	return nil
}

// Correct records a user-supplied answer for a term. Correcting implies
// confirming.
func (l *Ledger) Correct(term, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.terms[term]
	if !ok {
		return fmt.Errorf("unknown term %q", term)
	}
	r.Correction = text
	r.Confirmed = true
	return nil
}

// Get returns a copy of a term's resolution.
func (l *Ledger) Get(term string) (TermResolution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.terms[term]
	if !ok {
		return TermResolution{}, false
	}
	return *r, true
}

// All returns copies of every resolution in insertion order.
func (l *Ledger) All() []TermResolution {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]TermResolution, 0, len(l.order))
	for _, term := range l.order {
		out = append(out, *l.terms[term])
	}
	return out
}

// Unresolved returns the terms that may not be forwarded to plan synthesis
// as ground truth: unconfirmed and low confidence. Sorted for determinism.
func (l *Ledger) Unresolved() []TermResolution {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []TermResolution
	for _, r := range l.terms {
		if !r.Confirmed && r.Confidence == ConfidenceLow {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out
}

// Resolved returns every resolution that can be treated as ground truth:
// confirmed, or resolved with better than low confidence.
func (l *Ledger) Resolved() []TermResolution {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []TermResolution
	for _, term := range l.order {
		r := l.terms[term]
		if r.Confirmed || r.Confidence != ConfidenceLow {
			out = append(out, *r)
		}
	}
	return out
}
