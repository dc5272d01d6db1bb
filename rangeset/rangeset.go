// Package rangeset implements the persistent disjoint half-open byte-range
// worklist used to make index builds resumable (spec §4.H): a set of
// [begin, end) key ranges not yet processed by an online or mutual index
// build. A batch claims the smallest unprocessed range, processes a bounded
// prefix of it, and calls MarkProcessed to shrink or remove that range —
// the same boundary-tracking idea FDB's Record Layer uses to make index
// builds crash-safe and restartable.
package rangeset

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/tchap/go-patricia/v2/patricia"
)

// Range is one unprocessed half-open key range.
type Range struct {
	Begin []byte
	End   []byte
}

// Set is a mutable collection of disjoint unprocessed ranges, keyed by their
// Begin byte string in a patricia trie for efficient prefix lookup and
// membership tests.
type Set struct {
	trie *patricia.Trie
}

// New returns an empty range set.
func New() *Set {
	return &Set{trie: patricia.NewTrie()}
}

// InsertRange adds [begin, end) to the worklist as not-yet-processed. A
// fresh build inserts a single range spanning the whole record subspace;
// a mutual or multi-target build may insert several.
func (s *Set) InsertRange(begin, end []byte) {
	e := append([]byte{}, end...)
	s.trie.Insert(patricia.Prefix(begin), &e)
}

// ranges returns every stored range sorted by Begin. The trie does not
// promise sorted Visit order, so callers that need the smallest Begin must
// sort explicitly.
func (s *Set) ranges() []Range {
	var out []Range
	_ = s.trie.Visit(func(prefix patricia.Prefix, item patricia.Item) error {
		end, ok := item.(*[]byte)
		if !ok || end == nil {
			return nil
		}
		out = append(out, Range{Begin: append([]byte{}, prefix...), End: append([]byte{}, (*end)...)})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Begin, out[j].Begin) < 0 })
	return out
}

// NextBatchBounds returns the smallest unprocessed range's [begin, end), or
// ok=false if the set is empty (the build is complete).
func (s *Set) NextBatchBounds() (begin, end []byte, ok bool) {
	rs := s.ranges()
	if len(rs) == 0 {
		return nil, nil, false
	}
	return rs[0].Begin, rs[0].End, true
}

// MarkProcessed records that [begin, progressed) of the range starting at
// begin has been processed. begin must be the exact Begin of a range
// currently in the set (the shape NextBatchBounds/MarkProcessed is always
// used in: claim the smallest range, process a prefix of it, shrink it).
// If progressed reaches or passes the range's End, the range is removed
// entirely; otherwise the range shrinks to [progressed, End).
func (s *Set) MarkProcessed(begin, progressed []byte) {
	item := s.trie.Get(patricia.Prefix(begin))
	end, ok := item.(*[]byte)
	if !ok || end == nil {
		return
	}
	s.trie.Delete(patricia.Prefix(begin))
	if bytes.Compare(progressed, *end) >= 0 {
		return
	}
	remainder := append([]byte{}, *end...)
	s.trie.Insert(patricia.Prefix(progressed), &remainder)
}

// IsEmpty reports whether every inserted range has been fully processed.
func (s *Set) IsEmpty() bool {
	empty := true
	_ = s.trie.Visit(func(prefix patricia.Prefix, item patricia.Item) error {
		if item != nil {
			empty = false
		}
		return nil
	})
	return empty
}

type persistedRange struct {
	Begin []byte `json:"begin"`
	End   []byte `json:"end"`
}

// Marshal serializes the set for storage under a single metadata key,
// restart-safe across process crashes (the same "JSON blob behind one key"
// pattern used for on-disk storage metadata elsewhere in this engine).
func (s *Set) Marshal() ([]byte, error) {
	rs := s.ranges()
	out := make([]persistedRange, len(rs))
	for i, r := range rs {
		out[i] = persistedRange{Begin: r.Begin, End: r.End}
	}
	return json.Marshal(out)
}

// Unmarshal restores a set previously produced by Marshal. A nil or empty
// blob yields an empty set (no build has started yet).
func Unmarshal(data []byte) (*Set, error) {
	s := New()
	if len(data) == 0 {
		return s, nil
	}
	var prs []persistedRange
	if err := json.Unmarshal(data, &prs); err != nil {
		return nil, err
	}
	for _, pr := range prs {
		s.InsertRange(pr.Begin, pr.End)
	}
	return s, nil
}
