package plan

import (
	"context"

	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/itemstore"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/query"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/tuple"
	"github.com/recordstore/engine/txnrunner"
)

// ResultSequence is a finite, restartable-per-execution result sequence
// (spec §4.N). Records are decoded eagerly at Execute time (a full
// lazy-prefetch iterator belongs to the kv.Iterator layer below this); the
// cursor itself is restartable via Reset.
type ResultSequence struct {
	values []record.Values
	pos    int
}

// Next returns the next record and advances the cursor, or (nil, false)
// once exhausted.
func (r *ResultSequence) Next() (record.Values, bool) {
	if r.pos >= len(r.values) {
		return nil, false
	}
	v := r.values[r.pos]
	r.pos++
	return v, true
}

// Reset rewinds the cursor to the beginning, allowing the same sequence to
// be walked again.
func (r *ResultSequence) Reset() { r.pos = 0 }

// Len reports the total number of results.
func (r *ResultSequence) Len() int { return len(r.values) }

// All drains the remaining results into a slice.
func (r *ResultSequence) All() []record.Values {
	out := make([]record.Values, 0, len(r.values)-r.pos)
	for v, ok := r.Next(); ok; v, ok = r.Next() {
		out = append(out, v)
	}
	return out
}

// Execute runs node against subspace within a fresh transaction whose read
// version is sourced per policy from versions (spec §4.N), fetches the
// matching records through store, and applies residual as a final
// in-memory filter (the plan's IndexScan/TableScan narrow the primary-key
// candidate set; residual re-checks the full original condition against
// each decoded record, the way a real executor combines index-assisted
// fetch with a residual predicate).
func Execute(
	ctx context.Context,
	db kv.Database,
	versions *txnrunner.ReadVersionCache,
	policy txnrunner.CachePolicy,
	subspace []byte,
	specs []record.FieldSpec,
	store *itemstore.Store,
	node Node,
	residual query.Condition,
) (*ResultSequence, error) {
	txn, err := db.CreateTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer txn.Cancel()

	if cached := versions.GetCachedVersion(policy); cached != nil {
		txn.SetReadVersion(*cached)
	} else {
		v, err := txn.GetReadVersion(ctx)
		if err != nil {
			return nil, err
		}
		versions.UpdateReadVersion(v)
	}

	pks, err := gatherKeys(ctx, txn, subspace, node)
	if err != nil {
		return nil, err
	}

	out := make([]record.Values, 0, len(pks))
	for _, pk := range pks {
		raw, err := store.Read(ctx, txn, index.RecordKey(subspace, pk), index.BlobPartsPrefix(subspace, pk))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			continue
		}
		vals, err := record.DecodeFull(raw, specs)
		if err != nil {
			return nil, err
		}
		if !query.Evaluate(residual, vals) {
			continue
		}
		out = append(out, vals)
	}
	return &ResultSequence{values: out}, nil
}

// gatherKeys walks node, returning the candidate primary-key set (keyed by
// its packed representation to dedupe across Union branches).
func gatherKeys(ctx context.Context, txn kv.Transaction, subspace []byte, node Node) (map[string]tuple.Tuple, error) {
	switch node.Op {
	case OpTableScan:
		prefix := index.RecordsPrefix(subspace)
		return scanPrimaryKeys(ctx, txn, prefix)
	case OpIndexScan:
		prefix := index.IndexPrefix(subspace, node.Field)
		return scanIndexPrimaryKeys(ctx, txn, prefix)
	case OpFilter:
		return gatherKeys(ctx, txn, subspace, node.Children[0])
	case OpIntersection:
		return combineKeys(ctx, txn, subspace, node.Children, intersectSets)
	case OpUnion:
		return combineKeys(ctx, txn, subspace, node.Children, unionSets)
	default:
		return nil, nil
	}
}

func scanPrimaryKeys(ctx context.Context, txn kv.Transaction, prefix []byte) (map[string]tuple.Tuple, error) {
	out := make(map[string]tuple.Tuple)
	it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), false, false, 0)
	defer it.Close()
	for it.Next(ctx) {
		kvEntry := it.KeyValue()
		pk, err := tuple.Unpack(kvEntry.Key[len(prefix):])
		if err != nil {
			return nil, err
		}
		out[tuple.Key(pk)] = pk
	}
	return out, it.Err()
}

func scanIndexPrimaryKeys(ctx context.Context, txn kv.Transaction, indexPrefix []byte) (map[string]tuple.Tuple, error) {
	out := make(map[string]tuple.Tuple)
	it := txn.GetRange(ctx, indexPrefix, index.EndOfRange(indexPrefix), false, false, 0)
	defer it.Close()
	for it.Next(ctx) {
		kvEntry := it.KeyValue()
		pk, err := pkFromIndexEntry(kvEntry.Key, indexPrefix)
		if err != nil {
			return nil, err
		}
		out[tuple.Key(pk)] = pk
	}
	return out, it.Err()
}

// pkFromIndexEntry recovers the primary-key tuple from one single-field
// index's entry key: the suffix after indexPrefix is
// "<packedIndexKeyValue><entrySeparator><packedPrimaryKey>"; skip the one
// index-key element and the one-byte separator, then unpack the rest
// (mirrors indexbuild.splitIndexEntry's reasoning for why a naive
// tuple.Unpack over the whole suffix is invalid).
func pkFromIndexEntry(entryKey, indexPrefix []byte) (tuple.Tuple, error) {
	rest := entryKey[len(indexPrefix):]
	_, rest, err := tuple.UnpackOne(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, err
	}
	rest = rest[1:] // entrySeparator
	return tuple.Unpack(rest)
}

func combineKeys(
	ctx context.Context,
	txn kv.Transaction,
	subspace []byte,
	children []Node,
	combine func([]map[string]tuple.Tuple) map[string]tuple.Tuple,
) (map[string]tuple.Tuple, error) {
	sets := make([]map[string]tuple.Tuple, 0, len(children))
	for _, c := range children {
		s, err := gatherKeys(ctx, txn, subspace, c)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return combine(sets), nil
}

func intersectSets(sets []map[string]tuple.Tuple) map[string]tuple.Tuple {
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string]tuple.Tuple)
	for k, v := range sets[0] {
		inAll := true
		for _, s := range sets[1:] {
			if _, ok := s[k]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[k] = v
		}
	}
	return out
}

func unionSets(sets []map[string]tuple.Tuple) map[string]tuple.Tuple {
	out := make(map[string]tuple.Tuple)
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
