package plan

import (
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/recordstore/engine/config"
	"github.com/recordstore/engine/query"
)

// Cache memoizes Plan's chosen Node per (condition, available-indexes,
// budget) key, honoring config.Planner.EnablePlanCaching.
type Cache struct {
	entries *lru.Cache[string, Node]
}

// NewCache returns a plan cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, Node](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: c}, nil
}

func cacheKey(c query.Condition, indexes AvailableIndexes, cfg config.Planner) string {
	names := make([]string, 0, len(indexes))
	for name, ok := range indexes {
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return conditionKey(c) + "|" + strings.Join(names, ",") + "|" +
		strconv.Itoa(cfg.ComplexityThreshold) + "," + strconv.Itoa(cfg.MaxPlanEnumerations)
}

// conditionKey renders a canonical string for a query.Condition tree,
// mirroring Node.Describe's shape so equal conditions produce equal keys.
func conditionKey(c query.Condition) string {
	switch c.Kind {
	case query.KindAlwaysTrue:
		return "true"
	case query.KindAlwaysFalse:
		return "false"
	case query.KindField:
		f := c.Field
		return "field(" + f.Field + "," + strconv.Itoa(int(f.Operator)) + ")"
	case query.KindNegation:
		return "not[" + conditionKey(c.Children[0]) + "]"
	case query.KindConjunction, query.KindDisjunction:
		parts := make([]string, len(c.Children))
		for i, child := range c.Children {
			parts[i] = conditionKey(child)
		}
		op := "and"
		if c.Kind == query.KindDisjunction {
			op = "or"
		}
		return op + "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

// PlanCached behaves like Plan, but consults cache first (and populates it
// on a successful plan) when cfg.EnablePlanCaching is set. A nil cache or
// a disabled preset falls through to a plain Plan call every time.
func PlanCached(c query.Condition, indexes AvailableIndexes, cfg config.Planner, cache *Cache) (Node, error) {
	if !cfg.EnablePlanCaching || cache == nil {
		return Plan(c, indexes, cfg)
	}

	key := cacheKey(c, indexes, cfg)
	if hit, ok := cache.entries.Get(key); ok {
		return hit, nil
	}

	best, err := Plan(c, indexes, cfg)
	if err != nil {
		return Node{}, err
	}
	cache.entries.Add(key, best)
	return best, nil
}
