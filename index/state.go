package index

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
)

// State is one of an index's three lifecycle states (spec §3, §4.G).
type State byte

const (
	Disabled State = 0x00
	WriteOnly State = 0x01
	Readable State = 0x02
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case WriteOnly:
		return "writeOnly"
	case Readable:
		return "readable"
	default:
		return "unknown"
	}
}

// StateManager persists and caches index state under
// "S._meta.indexState.<name>" (spec §4.G). A single instance must be shared
// by every reader and writer that needs to observe each other's state
// changes — using a different instance after a state change is a
// programmer error (spec §5).
type StateManager struct {
	cache *lru.Cache[string, State]
}

func NewStateManager(cacheSize int) (*StateManager, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, State](cacheSize)
	if err != nil {
		return nil, err
	}
	return &StateManager{cache: c}, nil
}

func cacheKey(typeSubspace []byte, name string) string {
	return fmt.Sprintf("%x/%s", typeSubspace, name)
}

func stateKey(typeSubspace []byte, name string) []byte {
	return concat(MetaStatePrefix(typeSubspace), []byte(name))
}

// State returns the current state of name, defaulting to Disabled if never
// set.
func (m *StateManager) State(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string) (State, error) {
	ck := cacheKey(typeSubspace, name)
	if s, ok := m.cache.Get(ck); ok {
		return s, nil
	}
	raw, err := txn.GetValue(ctx, stateKey(typeSubspace, name), false)
	if err != nil {
		return Disabled, err
	}
	s := Disabled
	if len(raw) == 1 {
		s = State(raw[0])
	}
	m.cache.Add(ck, s)
	return s, nil
}

// set stages the state write but does not cache it: txn may still abort, and
// caching s here would let a reader observe a state that was never actually
// persisted. Instead the entry is evicted, so the next State() call re-reads
// the store and picks up whatever the write actually resolved to.
func (m *StateManager) set(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string, s State) {
	txn.SetValue(stateKey(typeSubspace, name), []byte{byte(s)})
	m.cache.Remove(cacheKey(typeSubspace, name))
}

var legalTransitions = map[State]State{
	Disabled:  WriteOnly,
	WriteOnly: Readable,
}

// Enable transitions name from disabled to writeOnly.
func (m *StateManager) Enable(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string) error {
	return m.transition(ctx, txn, typeSubspace, name, Disabled, WriteOnly)
}

// MakeReadable transitions name from writeOnly to readable.
func (m *StateManager) MakeReadable(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string) error {
	return m.transition(ctx, txn, typeSubspace, name, WriteOnly, Readable)
}

// Disable transitions name to disabled from writeOnly or readable. Disabling
// an index that is already disabled fails with an invalid-transition error.
func (m *StateManager) Disable(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string) error {
	current, err := m.State(ctx, txn, typeSubspace, name)
	if err != nil {
		return err
	}
	if current == Disabled {
		return invalidTransition(name, current, Disabled)
	}
	m.set(ctx, txn, typeSubspace, name, Disabled)
	return nil
}

func (m *StateManager) transition(ctx context.Context, txn kv.Transaction, typeSubspace []byte, name string, from, to State) error {
	current, err := m.State(ctx, txn, typeSubspace, name)
	if err != nil {
		return err
	}
	if current != from {
		return invalidTransition(name, current, to)
	}
	m.set(ctx, txn, typeSubspace, name, to)
	return nil
}

func invalidTransition(name string, from, to State) error {
	return engineerr.New(engineerr.IndexStateInvalidTransition, "illegal index state transition",
		"index", name, "from", from.String(), "to", to.String())
}
