// Package recorddb implements the user-facing transaction context API
// (spec §4.U): CRUD and fetch-query operations layered on the transaction
// runner (O), directory layer (E), index maintainer/state manager (F/G),
// and security delegate (S).
//
// Grounded on opa/storage/disk.Store's top-level Read/Write/NewTransaction
// facade: one object a caller drives without touching the pieces wired
// behind it.
package recorddb

import (
	"context"
	"fmt"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/directory"
	"github.com/recordstore/engine/engineerr"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/itemstore"
	"github.com/recordstore/engine/kv"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/security"
	"github.com/recordstore/engine/tuple"
	"github.com/recordstore/engine/txnrunner"
)

// RecordDescriptor is the runtime stand-in for the out-of-scope
// compile-time metadata extractor (spec §9 design note): applications
// register one per record type, naming its fields, primary key, declared
// directory template, and index descriptors.
type RecordDescriptor struct {
	TypeName         string
	Specs            []record.FieldSpec
	PrimaryKeyFields []string
	PartitionFields  []string // subset of Specs' names read to bind Template placeholders
	Template         directory.Template
	Indexes          []index.Descriptor
}

func (d RecordDescriptor) primaryKey(values record.Values) tuple.Tuple {
	pk := make(tuple.Tuple, len(d.PrimaryKeyFields))
	for i, f := range d.PrimaryKeyFields {
		pk[i] = values[f]
	}
	return pk
}

func (d RecordDescriptor) partitionBinding(values record.Values) directory.Binding {
	if len(d.PartitionFields) == 0 {
		return nil
	}
	b := make(directory.Binding, len(d.PartitionFields))
	for _, f := range d.PartitionFields {
		b[f] = fmt.Sprint(values[f])
	}
	return b
}

// Session wires the transaction context API facade together: one Session
// per application, shared across every request.
type Session struct {
	db         kv.Database
	runner     *txnrunner.Runner
	versions   *txnrunner.ReadVersionCache
	dir        *directory.Layer
	states     *index.StateManager
	maintainer *index.Maintainer
	security   *security.Delegate
	store      *itemstore.Store
	runnerCfg  config.Runner

	types map[string]RecordDescriptor
}

// NewSession constructs a Session over db, with sec gating every operation
// (pass security.NewDelegate(false) for an ungated default).
func NewSession(db kv.Database, dir *directory.Layer, states *index.StateManager, violations *index.Tracker, sec *security.Delegate, store *itemstore.Store) *Session {
	return &Session{
		db:         db,
		runner:     txnrunner.New(db, nil, nil),
		versions:   txnrunner.NewReadVersionCache(),
		dir:        dir,
		states:     states,
		maintainer: index.NewMaintainer(states, violations),
		security:   sec,
		store:      store,
		runnerCfg:  config.RunnerDefault(),
		types:      make(map[string]RecordDescriptor),
	}
}

// Register installs desc for desc.TypeName, replacing any prior
// registration for that type.
func (s *Session) Register(desc RecordDescriptor) {
	s.types[desc.TypeName] = desc
}

func (s *Session) descriptor(typeName string) (RecordDescriptor, error) {
	d, ok := s.types[typeName]
	if !ok {
		return RecordDescriptor{}, engineerr.New(engineerr.SchemaMismatch, "no RecordDescriptor registered for type", "type", typeName)
	}
	return d, nil
}

// resolveSubspace resolves typeName's directory subspace for binding,
// failing with DirectoryPathError if the type's template is dynamic and no
// (or an incomplete) partition binding was supplied (spec §4.U, scenario
// S8).
func (s *Session) resolveSubspace(ctx context.Context, txn kv.Transaction, d RecordDescriptor, binding directory.Binding) ([]byte, error) {
	if d.Template.IsDynamic() && len(binding) == 0 {
		return nil, engineerr.New(engineerr.DirectoryPathError,
			"type has a dynamic (partitioned) directory; a partition binding is required",
			"type", d.TypeName)
	}
	path, err := d.Template.Resolve(binding)
	if err != nil {
		return nil, err
	}
	return s.dir.GetOrOpen(ctx, txn, path)
}

// Set inserts or updates a record, maintaining every declared index in the
// same transaction (spec data-flow: U → O → D/E → C → F/G/T → O).
func (s *Session) Set(ctx context.Context, typeName string, values record.Values, roles []string) error {
	d, err := s.descriptor(typeName)
	if err != nil {
		return err
	}
	if err := s.security.Check(ctx, typeName, security.OpCreate, roles); err != nil {
		return err
	}
	binding := d.partitionBinding(values)
	pk := d.primaryKey(values)

	_, err = txnrunner.Run(ctx, s.runner, s.runnerCfg, func(ctx context.Context, txn kv.Transaction) (struct{}, error) {
		subspace, err := s.resolveSubspace(ctx, txn, d, binding)
		if err != nil {
			return struct{}{}, err
		}
		baseKey := index.RecordKey(subspace, pk)
		partPrefix := index.BlobPartsPrefix(subspace, pk)

		oldRaw, err := s.store.Read(ctx, txn, baseKey, partPrefix)
		if err != nil {
			return struct{}{}, err
		}
		var old record.Values
		if oldRaw != nil {
			old, err = record.DecodeFull(oldRaw, d.Specs)
			if err != nil {
				return struct{}{}, err
			}
		}

		if err := s.maintainer.Apply(ctx, txn, subspace, d.Indexes, old, values, pk); err != nil {
			return struct{}{}, err
		}
		if err := s.store.Write(ctx, txn, baseKey, partPrefix, record.EncodeFull(values, d.Specs)); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

// Get fetches one record by primary key. binding is required iff typeName
// has a dynamic directory.
func (s *Session) Get(ctx context.Context, typeName string, pk tuple.Tuple, binding directory.Binding, roles []string) (record.Values, bool, error) {
	d, err := s.descriptor(typeName)
	if err != nil {
		return nil, false, err
	}
	if err := s.security.Check(ctx, typeName, security.OpGet, roles); err != nil {
		return nil, false, err
	}

	result, err := txnrunner.Run(ctx, s.runner, s.runnerCfg, func(ctx context.Context, txn kv.Transaction) (record.Values, error) {
		subspace, err := s.resolveSubspace(ctx, txn, d, binding)
		if err != nil {
			return nil, err
		}
		raw, err := s.store.Read(ctx, txn, index.RecordKey(subspace, pk), index.BlobPartsPrefix(subspace, pk))
		if err != nil || raw == nil {
			return nil, err
		}
		return record.DecodeFull(raw, d.Specs)
	})
	if err != nil {
		return nil, false, err
	}
	return result, result != nil, nil
}

// GetMany fetches every pk in pks, skipping any that are absent.
func (s *Session) GetMany(ctx context.Context, typeName string, pks []tuple.Tuple, binding directory.Binding, roles []string) ([]record.Values, error) {
	var out []record.Values
	for _, pk := range pks {
		v, ok, err := s.Get(ctx, typeName, pk, binding, roles)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Delete removes one record and its index entries.
func (s *Session) Delete(ctx context.Context, typeName string, pk tuple.Tuple, binding directory.Binding, roles []string) error {
	d, err := s.descriptor(typeName)
	if err != nil {
		return err
	}
	if err := s.security.Check(ctx, typeName, security.OpDelete, roles); err != nil {
		return err
	}

	_, err = txnrunner.Run(ctx, s.runner, s.runnerCfg, func(ctx context.Context, txn kv.Transaction) (struct{}, error) {
		subspace, err := s.resolveSubspace(ctx, txn, d, binding)
		if err != nil {
			return struct{}{}, err
		}
		baseKey := index.RecordKey(subspace, pk)
		partPrefix := index.BlobPartsPrefix(subspace, pk)

		oldRaw, err := s.store.Read(ctx, txn, baseKey, partPrefix)
		if err != nil {
			return struct{}{}, err
		}
		if oldRaw == nil {
			return struct{}{}, nil
		}
		old, err := record.DecodeFull(oldRaw, d.Specs)
		if err != nil {
			return struct{}{}, err
		}
		if err := s.maintainer.Apply(ctx, txn, subspace, d.Indexes, old, nil, pk); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.store.Delete(ctx, txn, baseKey, partPrefix)
	})
	return err
}

// DeleteAll clears every record of typeName within binding's partition,
// requiring a partition binding for a dynamically-directoried type (spec
// §4.U, §6 "delete-all requires partition for dynamic types").
func (s *Session) DeleteAll(ctx context.Context, typeName string, binding directory.Binding, roles []string) error {
	d, err := s.descriptor(typeName)
	if err != nil {
		return err
	}
	if err := s.security.Check(ctx, typeName, security.OpDelete, roles); err != nil {
		return err
	}

	_, err = txnrunner.Run(ctx, s.runner, s.runnerCfg, func(ctx context.Context, txn kv.Transaction) (struct{}, error) {
		subspace, err := s.resolveSubspace(ctx, txn, d, binding)
		if err != nil {
			return struct{}{}, err
		}
		recordsPrefix := index.RecordsPrefix(subspace)
		txn.ClearRange(recordsPrefix, index.EndOfRange(recordsPrefix))
		blobPrefix := append(append([]byte{}, subspace...), []byte("B/")...)
		txn.ClearRange(blobPrefix, index.EndOfRange(blobPrefix))
		for _, idx := range d.Indexes {
			p := index.IndexPrefix(subspace, idx.Name)
			txn.ClearRange(p, index.EndOfRange(p))
		}
		return struct{}{}, nil
	})
	return err
}

// Enumerate invokes fn for every record of typeName within binding's
// partition, in primary-key order, stopping early if fn returns an error.
func (s *Session) Enumerate(ctx context.Context, typeName string, binding directory.Binding, roles []string, fn func(record.Values) error) error {
	d, err := s.descriptor(typeName)
	if err != nil {
		return err
	}
	if err := s.security.Check(ctx, typeName, security.OpList, roles); err != nil {
		return err
	}

	_, err = txnrunner.Run(ctx, s.runner, s.runnerCfg, func(ctx context.Context, txn kv.Transaction) (struct{}, error) {
		subspace, err := s.resolveSubspace(ctx, txn, d, binding)
		if err != nil {
			return struct{}{}, err
		}
		prefix := index.RecordsPrefix(subspace)
		it := txn.GetRange(ctx, prefix, index.EndOfRange(prefix), false, false, 0)
		var pks []tuple.Tuple
		for it.Next(ctx) {
			pk, err := tuple.Unpack(it.KeyValue().Key[len(prefix):])
			if err != nil {
				it.Close()
				return struct{}{}, err
			}
			pks = append(pks, pk)
		}
		iterErr := it.Err()
		it.Close()
		if iterErr != nil {
			return struct{}{}, iterErr
		}

		for _, pk := range pks {
			raw, err := s.store.Read(ctx, txn, index.RecordKey(subspace, pk), index.BlobPartsPrefix(subspace, pk))
			if err != nil {
				return struct{}{}, err
			}
			if raw == nil {
				continue
			}
			vals, err := record.DecodeFull(raw, d.Specs)
			if err != nil {
				return struct{}{}, err
			}
			if err := fn(vals); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return err
}
