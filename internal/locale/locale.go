// Package locale tracks the active language and exposes it as a computed
// value for composite references that select a translation row.
package locale

import (
	"fmt"
	"sync"

	"golang.org/x/text/language"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/ir"
)

// FuncName is the name declarations use for the current language.
const FuncName = "locale.current"

// DefaultLanguages is the supported set used when none is configured. The
// first one is the default.
var DefaultLanguages = []string{"en", "fr", "de", "es", "it"}

// Tracker holds the active language, matched against a supported set.
//
// Thread-safety: All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	supported []language.Tag
	matcher   language.Matcher
	current   language.Tag
	fn        *compositefk.ValueFunc
}

// NewTracker creates a tracker for the supported languages. The first one
// is the default and is active initially.
func NewTracker(supported ...string) (*Tracker, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("at least one supported language is required")
	}

	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse language %q: %w", s, err)
		}
		tags = append(tags, tag)
	}

	t := &Tracker{
		supported: tags,
		matcher:   language.NewMatcher(tags),
		current:   tags[0],
	}
	t.fn = compositefk.NewValueFunc(FuncName, func() ir.IRValue {
		return ir.IRString(t.Code())
	})
	return t, nil
}

// Activate switches to the supported language closest to the requested
// one, e.g. "fr-CA" activates "fr". It returns the activated tag.
func (t *Tracker) Activate(requested string) (language.Tag, error) {
	tag, err := language.Parse(requested)
	if err != nil {
		return language.Und, fmt.Errorf("parse language %q: %w", requested, err)
	}

	_, index, _ := t.matcher.Match(tag)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.supported[index]
	return t.current, nil
}

// Deactivate restores the default language.
func (t *Tracker) Deactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = t.supported[0]
}

// Current returns the active language.
func (t *Tracker) Current() language.Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Code returns the base language code of the active language, e.g. "en".
func (t *Tracker) Code() string {
	base, _ := t.Current().Base()
	return base.String()
}

// ValueFunc returns the computed value yielding Code. The same pointer is
// returned on every call so mappings built from it compare equal.
func (t *Tracker) ValueFunc() *compositefk.ValueFunc {
	return t.fn
}

// Register adds the tracker's value function to funcs.
func (t *Tracker) Register(funcs *compositefk.FuncRegistry) error {
	return funcs.Register(t.fn)
}
