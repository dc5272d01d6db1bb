package index

import (
	"context"
	"encoding/json"
	"time"

	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/tuple"
)

// Violation is one recorded write-only-state uniqueness conflict (spec
// §4.F, §4.T): a set of distinct primary keys that all produced the same
// index key while the index was in writeOnly state.
type Violation struct {
	IndexName   string
	ValueKey    []byte   `json:"valueKey"`   // packed index key
	PrimaryKeys [][]byte `json:"primaryKeys"` // packed primary keys, deduplicated
	DetectedAt  time.Time
}

// Summary is the aggregate view returned by ViolationSummary.
type Summary struct {
	IndexName                string
	ViolationCount           int
	TotalConflictingRecords  int
}

// Tracker persists violations under "S._meta.violations.<indexName>.<valueKey>".
type Tracker struct {
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

func violationKey(typeSubspace []byte, indexName string, valueKey tuple.Tuple) []byte {
	return concat(MetaViolationsIndexPrefix(typeSubspace, indexName), tuple.Pack(valueKey))
}

// RecordViolation appends newPk to the violation set recorded at valueKey,
// creating the record if this is its first conflicting write.
func (t *Tracker) RecordViolation(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string, valueKey, newPk tuple.Tuple) error {
	key := violationKey(typeSubspace, indexName, valueKey)
	raw, err := txn.GetValue(ctx, key, false)
	if err != nil {
		return err
	}

	var v Violation
	if raw != nil {
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
	} else {
		v = Violation{IndexName: indexName, ValueKey: tuple.Pack(valueKey)}
	}

	packedPk := tuple.Pack(newPk)
	for _, pk := range v.PrimaryKeys {
		if string(pk) == string(packedPk) {
			return nil // already recorded
		}
	}
	v.PrimaryKeys = append(v.PrimaryKeys, packedPk)
	v.DetectedAt = t.now()

	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	txn.SetValue(key, encoded)
	return nil
}

// ScanViolations returns every violation recorded for indexName.
func (t *Tracker) ScanViolations(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string) ([]Violation, error) {
	prefix := MetaViolationsIndexPrefix(typeSubspace, indexName)
	it := txn.GetRange(ctx, prefix, EndOfRange(prefix), true, false, 0)
	defer it.Close()

	var out []Violation
	for it.Next(ctx) {
		var v Violation
		if err := json.Unmarshal(it.KeyValue().Value, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, it.Err()
}

// HasViolations reports whether indexName has any recorded violation.
func (t *Tracker) HasViolations(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string) (bool, error) {
	vs, err := t.ScanViolations(ctx, txn, typeSubspace, indexName)
	return len(vs) > 0, err
}

// CountViolations returns the number of distinct conflicting value keys.
func (t *Tracker) CountViolations(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string) (int, error) {
	vs, err := t.ScanViolations(ctx, txn, typeSubspace, indexName)
	return len(vs), err
}

// ClearViolation removes the violation recorded at valueKey, if any.
func (t *Tracker) ClearViolation(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string, valueKey tuple.Tuple) error {
	txn.Clear(violationKey(typeSubspace, indexName, valueKey))
	return nil
}

// ClearAllViolations removes every violation recorded for indexName.
func (t *Tracker) ClearAllViolations(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string) error {
	prefix := MetaViolationsIndexPrefix(typeSubspace, indexName)
	txn.ClearRange(prefix, EndOfRange(prefix))
	return nil
}

// ViolationSummary aggregates the violations recorded for indexName.
func (t *Tracker) ViolationSummary(ctx context.Context, txn kv.Transaction, typeSubspace []byte, indexName string) (Summary, error) {
	vs, err := t.ScanViolations(ctx, txn, typeSubspace, indexName)
	if err != nil {
		return Summary{}, err
	}
	total := 0
	for _, v := range vs {
		total += len(v.PrimaryKeys)
	}
	return Summary{IndexName: indexName, ViolationCount: len(vs), TotalConflictingRecords: total}, nil
}
