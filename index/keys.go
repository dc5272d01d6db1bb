// Package index implements index maintenance (spec §4.F), the index state
// machine (§4.G), and the uniqueness-violation tracker (§4.T) within a
// record type's subspace.
package index

import "github.com/recordstore/engine/tuple"

// entrySeparator delimits a packed index key from the packed primary key
// that follows it, so that range-scanning "every entry for one index key"
// cannot be confused with a different, longer index key that happens to
// share a byte prefix (spec §4.A only guarantees ordering, not prefix
// freedom, across differently-shaped tuples).
const entrySeparator = 0xfe

// RecordsPrefix is the "S.R." subspace holding record bytes (spec §3).
func RecordsPrefix(typeSubspace []byte) []byte {
	return concat(typeSubspace, []byte("R/"))
}

// RecordKey is "S.R.<packedPrimaryKey>".
func RecordKey(typeSubspace []byte, pk tuple.Tuple) []byte {
	return concat(RecordsPrefix(typeSubspace), tuple.Pack(pk))
}

// BlobPartsPrefix is the per-record blob-parts prefix, "S.B.<packedPk>.".
func BlobPartsPrefix(typeSubspace []byte, pk tuple.Tuple) []byte {
	return concat(typeSubspace, []byte("B/"), tuple.Pack(pk), []byte{entrySeparator})
}

// IndexPrefix is "S.I.<indexName>.", the subspace for one index.
func IndexPrefix(typeSubspace []byte, indexName string) []byte {
	return concat(typeSubspace, []byte("I/"), []byte(indexName), []byte("/"))
}

// IndexEntryPrefix is "S.I.<indexName>.<packedIndexKey>.", the range of
// primary keys currently mapped to one index key.
func IndexEntryPrefix(typeSubspace []byte, indexName string, key tuple.Tuple) []byte {
	return concat(IndexPrefix(typeSubspace, indexName), tuple.Pack(key), []byte{entrySeparator})
}

// IndexEntryKey is "S.I.<indexName>.<packedIndexKey>.<packedPrimaryKey>".
func IndexEntryKey(typeSubspace []byte, indexName string, key, pk tuple.Tuple) []byte {
	return concat(IndexEntryPrefix(typeSubspace, indexName, key), tuple.Pack(pk))
}

// MetaStatePrefix is "S._meta.indexState.".
func MetaStatePrefix(typeSubspace []byte) []byte {
	return concat(typeSubspace, []byte("_meta/indexState/"))
}

// MetaViolationsIndexPrefix is "S._meta.violations.<indexName>.".
func MetaViolationsIndexPrefix(typeSubspace []byte, indexName string) []byte {
	return concat(typeSubspace, []byte("_meta/violations/"), []byte(indexName), []byte("/"))
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// EndOfRange returns prefix followed by 0xff: the exclusive upper bound of
// every key that extends prefix with a byte below 0xff, which covers every
// key formed by packing tuple elements after prefix (no tuple type tag is
// 0xff). Unlike FDB's "strinc" it does not increment the last byte.
func EndOfRange(prefix []byte) []byte {
	return append(append([]byte{}, prefix...), 0xff)
}

// PrimaryKeyFromEntry strips prefix from a full index-entry key, leaving
// the packed primary key suffix, and unpacks it.
func PrimaryKeyFromEntry(entryKey, prefix []byte) (tuple.Tuple, error) {
	suffix := entryKey[len(prefix):]
	return tuple.Unpack(suffix)
}
