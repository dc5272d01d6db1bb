package indexbuild

import (
	"context"

	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/logging"
	"github.com/recordstore/engine/tuple"
)

// MutualPair describes a paired forward/reverse index build (spec §4.J):
// Forward and Reverse are maintained together from the same record scan, so
// a restart never leaves one side built further than the other.
type MutualPair struct {
	Forward   index.Descriptor
	Reverse   index.Descriptor
	Symmetric bool // true for relations where (a,b) and (b,a) are the same edge
}

// BuildMutual builds both sides of pair in a single pass (spec §4.J). When
// Symmetric is true, each computed forward key is canonicalized to
// (min,max) order before being handed to the maintainer, so a symmetric
// relation recorded from either endpoint produces one entry, not two.
func (b *Builder) BuildMutual(ctx context.Context, cfg Config, buildName string, pair MutualPair) error {
	targets := []index.Descriptor{pair.Forward, pair.Reverse}
	if pair.Symmetric {
		targets[0].CanonicalizePair = true
		targets[1].CanonicalizePair = true
	}
	return b.BuildOnline(ctx, cfg, buildName, targets)
}

// VerifyMutualSample draws up to sampleSize entries from pair.Forward and
// confirms a matching entry exists in pair.Reverse, logging — never
// failing — on any mismatch found. It is a diagnostic pass, not a repair:
// a real inconsistency needs a rebuild, not a silent patch.
func (b *Builder) VerifyMutualSample(ctx context.Context, log logging.Logger, pair MutualPair, sampleSize int) error {
	txn, err := b.DB.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	defer txn.Cancel()

	prefix := index.IndexPrefix(b.Subspace, pair.Forward.Name)
	it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), true, false, sampleSize)
	defer it.Close()

	mismatches := 0
	sampled := 0
	for it.Next(ctx) {
		sampled++
		entryKey := it.KeyValue().Key
		fwdKey, pk, err := splitIndexEntry(entryKey, prefix, pair.Forward)
		if err != nil {
			log.Warnf("mutual verify: malformed forward entry: %v", err)
			continue
		}
		revKey := reverseKey(fwdKey, pair)
		revEntry := index.IndexEntryKey(b.Subspace, pair.Reverse.Name, revKey, pk)
		val, err := txn.GetValue(ctx, revEntry, true)
		if err != nil {
			log.Warnf("mutual verify: reverse lookup failed: %v", err)
			continue
		}
		if val == nil {
			mismatches++
			log.WithField("forwardIndex", pair.Forward.Name).
				WithField("reverseIndex", pair.Reverse.Name).
				Warnf("mutual index inconsistency: no reverse entry for forward key %v (pk %v)", fwdKey, pk)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	log.Infof("mutual verify sampled %d entries, %d mismatches", sampled, mismatches)
	return nil
}

// splitIndexEntry inverts IndexEntryKey: it consumes exactly len(d.Fields)
// tuple elements as the index key, skips the entrySeparator byte, and
// unpacks the remainder as the primary key.
func splitIndexEntry(entryKey, prefix []byte, d index.Descriptor) (key, pk tuple.Tuple, err error) {
	rest := entryKey[len(prefix):]
	key = make(tuple.Tuple, 0, len(d.Fields))
	for i := 0; i < len(d.Fields); i++ {
		v, tail, uerr := tuple.UnpackOne(rest)
		if uerr != nil {
			return nil, nil, uerr
		}
		key = append(key, v)
		rest = tail
	}
	if len(rest) == 0 {
		return nil, nil, engineerr.New(engineerr.MalformedTuple, "index entry missing separator/primary key")
	}
	rest = rest[1:] // entrySeparator
	pk, err = tuple.Unpack(rest)
	return key, pk, err
}

// reverseKey swaps a forward key's two fields to the corresponding reverse
// key. A symmetric pair's keys are already canonicalized, so the reverse
// key equals the forward key.
func reverseKey(fwdKey tuple.Tuple, pair MutualPair) tuple.Tuple {
	if pair.Symmetric || len(fwdKey) != 2 {
		return fwdKey
	}
	return tuple.Tuple{fwdKey[1], fwdKey[0]}
}
