package recorddb

import (
	"context"
	"sort"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/directory"
	"github.com/recordstore/engine/index"
	"github.com/recordstore/engine/query"
	"github.com/recordstore/engine/query/plan"
	"github.com/recordstore/engine/record"
	"github.com/recordstore/engine/security"
	"github.com/recordstore/engine/txnrunner"
)

// FetchBuilder accumulates a query's where/orderBy/limit/offset/cachePolicy/
// partition clauses before Execute (spec §4.U:
// fetch(type).where(…).orderBy(…).limit(…).offset(…).cachePolicy(…).
// partition(…).execute()/first()/count()).
type FetchBuilder struct {
	session    *Session
	typeName   string
	roles      []string
	cond       query.Condition
	orderBy    string
	orderDesc  bool
	limit      int
	offset     int
	policy     txnrunner.CachePolicy
	binding    directory.Binding
	plannerCfg config.Planner
	planCache  *plan.Cache
}

// Fetch starts a query against typeName.
func (s *Session) Fetch(typeName string, roles []string) *FetchBuilder {
	return &FetchBuilder{
		session:    s,
		typeName:   typeName,
		roles:      roles,
		cond:       query.AlwaysTrue(),
		policy:     txnrunner.Server(),
		plannerCfg: config.PlannerDefault(),
	}
}

// Where narrows the query to cond (replacing any previously-set
// condition).
func (b *FetchBuilder) Where(cond query.Condition) *FetchBuilder {
	b.cond = cond
	return b
}

// OrderBy sorts results by field, ascending unless desc is true.
func (b *FetchBuilder) OrderBy(field string, desc bool) *FetchBuilder {
	b.orderBy = field
	b.orderDesc = desc
	return b
}

// Limit caps the result count. 0 (the default) means unbounded.
func (b *FetchBuilder) Limit(n int) *FetchBuilder {
	b.limit = n
	return b
}

// Offset skips the first n results (applied after ordering).
func (b *FetchBuilder) Offset(n int) *FetchBuilder {
	b.offset = n
	return b
}

// CachePolicy selects the read-version policy Execute honors.
func (b *FetchBuilder) CachePolicy(p txnrunner.CachePolicy) *FetchBuilder {
	b.policy = p
	return b
}

// Partition binds a partition field for a dynamically-directoried type.
// Calling it repeatedly accumulates bindings for types partitioned by more
// than one field.
func (b *FetchBuilder) Partition(field, value string) *FetchBuilder {
	if b.binding == nil {
		b.binding = directory.Binding{}
	}
	b.binding[field] = value
	return b
}

// PlannerConfig overrides the default planner preset for this query.
func (b *FetchBuilder) PlannerConfig(cfg config.Planner) *FetchBuilder {
	b.plannerCfg = cfg
	return b
}

// WithPlanCache attaches a plan cache (consulted only when
// cfg.EnablePlanCaching is set).
func (b *FetchBuilder) WithPlanCache(c *plan.Cache) *FetchBuilder {
	b.planCache = c
	return b
}

// Execute runs the accumulated query, honoring partition enforcement (spec
// §4.U scenario S8: a dynamically-directoried type with no partition
// binding fails with DirectoryPathError), orderBy, limit, and offset.
func (b *FetchBuilder) Execute(ctx context.Context) ([]record.Values, error) {
	s := b.session
	d, err := s.descriptor(b.typeName)
	if err != nil {
		return nil, err
	}
	if err := s.security.Check(ctx, b.typeName, security.OpList, b.roles); err != nil {
		return nil, err
	}

	// Resolve the subspace and the set of currently-readable indexes in a
	// short-lived transaction; the actual scan/read happens inside
	// plan.Execute against its own transaction and read-version policy.
	txn, err := s.db.CreateTransaction(ctx)
	if err != nil {
		return nil, err
	}
	subspace, err := s.resolveSubspace(ctx, txn, d, b.binding)
	if err != nil {
		txn.Cancel()
		return nil, err
	}
	indexes := make(plan.AvailableIndexes, len(d.Indexes))
	for _, idx := range d.Indexes {
		state, err := s.states.State(ctx, txn, subspace, idx.Name)
		if err != nil {
			txn.Cancel()
			return nil, err
		}
		if state == index.Readable {
			indexes[idx.Name] = true
		}
	}
	txn.Cancel()

	node, err := plan.PlanCached(b.cond, indexes, b.plannerCfg, b.planCache)
	if err != nil {
		return nil, err
	}

	seq, err := plan.Execute(ctx, s.db, s.versions, b.policy, subspace, d.Specs, s.store, node, b.cond)
	if err != nil {
		return nil, err
	}
	results := seq.All()

	if b.orderBy != "" {
		sort.SliceStable(results, func(i, j int) bool {
			less := compareValues(results[i][b.orderBy], results[j][b.orderBy])
			if b.orderDesc {
				return less > 0
			}
			return less < 0
		})
	}

	if b.offset > 0 {
		if b.offset >= len(results) {
			return nil, nil
		}
		results = results[b.offset:]
	}
	if b.limit > 0 && b.limit < len(results) {
		results = results[:b.limit]
	}
	return results, nil
}

// First returns the first matching record, if any.
func (b *FetchBuilder) First(ctx context.Context) (record.Values, bool, error) {
	saved := b.limit
	b.limit = 1
	results, err := b.Execute(ctx)
	b.limit = saved
	if err != nil || len(results) == 0 {
		return nil, false, err
	}
	return results[0], true, nil
}

// Count returns the number of matching records without materializing an
// ordering/offset/limit pass beyond what Execute already applies.
func (b *FetchBuilder) Count(ctx context.Context) (int, error) {
	results, err := b.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

func compareValues(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	an, aok := toFloat(a)
	bn, bok := toFloat(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
