package index

import (
	"context"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/tuple"
)

// Kind enumerates an index's structural shape (spec §3).
type Kind int

const (
	KindScalar Kind = iota
	KindArrayFanOut
	KindMutualForward
	KindMutualReverse
	KindPluggable
)

// CheckMode is the uniqueness-check strategy an index applies at write
// time. Per the Open Question decision recorded in SPEC_FULL.md, CheckMode
// is only meaningful on a non-unique index (where it has no effect, since
// no uniqueness check runs); a unique index must use CheckImmediate.
type CheckMode int

const (
	CheckImmediate CheckMode = iota
	CheckTrack
	CheckSkip
)

// Descriptor is an index descriptor (spec §3, §4.F): name, fields, and the
// knobs controlling its structural shape and uniqueness enforcement.
type Descriptor struct {
	Name      string
	Kind      Kind
	Fields    []string // contributing field names, in key order
	ArrayField string  // set iff Kind == KindArrayFanOut: the fan-out field
	IsUnique  bool
	CheckMode CheckMode

	// CoveringFields, if non-empty, makes this a covering index whose
	// entries carry a record.EncodeCovering payload instead of an empty
	// value (spec §4.D).
	CoveringFields []string

	// CanonicalizePair reorders a two-field key to (min,max) before it is
	// diffed/stored, so a symmetric mutual-index relation recorded from
	// either endpoint produces exactly one entry (spec §4.J).
	CanonicalizePair bool
}

// Validate rejects configuration-time-ambiguous descriptors (spec §9 open
// question, resolved in SPEC_FULL.md): a unique index may only use
// CheckImmediate.
func (d Descriptor) Validate() error {
	if d.IsUnique && d.CheckMode != CheckImmediate {
		return engineerr.New(engineerr.SchemaMismatch,
			"unique index must use CheckImmediate uniqueness-check mode", "index", d.Name)
	}
	if d.Kind == KindArrayFanOut && d.ArrayField == "" {
		return engineerr.New(engineerr.SchemaMismatch, "array fan-out index requires ArrayField", "index", d.Name)
	}
	return nil
}

// computeKeys extracts the index key(s) a record produces under d. A
// nil values map (record absent) produces no keys.
func (d Descriptor) computeKeys(values record.Values) []tuple.Tuple {
	if values == nil {
		return nil
	}
	if d.Kind != KindArrayFanOut {
		t := make(tuple.Tuple, len(d.Fields))
		for i, f := range d.Fields {
			t[i] = values[f]
		}
		if d.CanonicalizePair {
			t = canonicalizePair(t)
		}
		return []tuple.Tuple{t}
	}

	arr, _ := values[d.ArrayField].([]any)
	seen := make(map[string]bool, len(arr))
	var out []tuple.Tuple
	for _, elem := range arr {
		t := make(tuple.Tuple, len(d.Fields))
		for i, f := range d.Fields {
			if f == d.ArrayField {
				t[i] = elem
			} else {
				t[i] = values[f]
			}
		}
		k := tuple.Key(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// canonicalizePair reorders a two-element tuple to (min,max) by its packed
// byte representation, so (a,b) and (b,a) collapse to the same key.
func canonicalizePair(t tuple.Tuple) tuple.Tuple {
	if len(t) != 2 {
		return t
	}
	a := tuple.Tuple{t[0]}
	b := tuple.Tuple{t[1]}
	if tuple.Less(b, a) {
		return tuple.Tuple{t[1], t[0]}
	}
	return t
}

func toSet(keys []tuple.Tuple) map[string]tuple.Tuple {
	m := make(map[string]tuple.Tuple, len(keys))
	for _, k := range keys {
		m[tuple.Key(k)] = k
	}
	return m
}

// setDiff returns the keys present in a but not in b.
func setDiff(a, b map[string]tuple.Tuple) []tuple.Tuple {
	var out []tuple.Tuple
	for k, v := range a {
		if _, ok := b[k]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Maintainer applies diff-based index updates (spec §4.F): for every index
// in writeOnly or readable state, compute oldKeys\newKeys / newKeys\oldKeys
// and apply the minimal set of clears/writes, touching only the changed
// keys rather than scanning the record subspace.
type Maintainer struct {
	states     *StateManager
	violations *Tracker
}

func NewMaintainer(states *StateManager, violations *Tracker) *Maintainer {
	return &Maintainer{states: states, violations: violations}
}

// Apply maintains every descriptor's index entries for the transition from
// old to new at primary key pk (either may be nil, representing insert,
// update, or delete).
func (m *Maintainer) Apply(ctx context.Context, txn kv.Transaction, typeSubspace []byte, descriptors []Descriptor, old, new record.Values, pk tuple.Tuple) error {
	for _, d := range descriptors {
		state, err := m.states.State(ctx, txn, typeSubspace, d.Name)
		if err != nil {
			return err
		}
		if state == Disabled {
			continue
		}

		oldSet := toSet(d.computeKeys(old))
		newSet := toSet(d.computeKeys(new))

		for _, key := range setDiff(oldSet, newSet) {
			txn.Clear(IndexEntryKey(typeSubspace, d.Name, key, pk))
		}

		for _, key := range setDiff(newSet, oldSet) {
			if d.IsUnique {
				conflicting, err := m.conflictingOwners(ctx, txn, typeSubspace, d.Name, key, pk)
				if err != nil {
					return err
				}
				if len(conflicting) > 0 {
					if state == Readable {
						return uniquenessViolation(d.Name, key, conflicting, pk)
					}
					if err := m.violations.RecordViolation(ctx, txn, typeSubspace, d.Name, key, pk); err != nil {
						return err
					}
				}
			}
			entryValue := []byte{}
			if len(d.CoveringFields) > 0 && new != nil {
				entryValue = record.EncodeCovering(new, d.CoveringFields)
			}
			txn.SetValue(IndexEntryKey(typeSubspace, d.Name, key, pk), entryValue)
		}
	}
	return nil
}

// conflictingOwners scans existing owners of an index key to decide whether
// a uniqueness violation fires. Unlike the builder's internal progress
// scans, this result gates the write itself (spec §5: snapshot reads are
// only for scans "whose results do not affect the write set"), so it must
// add to the transaction's conflict range rather than read as a snapshot.
func (m *Maintainer) conflictingOwners(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string, key, newPk tuple.Tuple) ([]tuple.Tuple, error) {
	prefix := IndexEntryPrefix(typeSubspace, indexName, key)
	it := txn.GetRange(ctx, prefix, EndOfRange(prefix), false, false, 0)
	defer it.Close()

	var conflicting []tuple.Tuple
	for it.Next(ctx) {
		owner, err := PrimaryKeyFromEntry(it.KeyValue().Key, prefix)
		if err != nil {
			return nil, err
		}
		if !tuple.Equal(owner, newPk) {
			conflicting = append(conflicting, owner)
		}
	}
	return conflicting, it.Err()
}

func uniquenessViolation(indexName string, key tuple.Tuple, conflicting []tuple.Tuple, newPk tuple.Tuple) error {
	return engineerr.New(engineerr.UniquenessViolation, "unique index violation",
		"indexName", indexName,
		"conflictingValues", []any(key),
		"existingPk", []any(conflicting[0]),
		"newPk", []any(newPk),
	)
}
