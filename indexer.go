package httpsepreload

import (
	"github.com/armon/go-radix"
	"github.com/getlantern/golog"
)

// Index maps reverse-label keys to the compacted bodies of every ruleset
// targeting that host, in the order the rulesets were added.
type Index struct {
	log    golog.Logger
	tree   *radix.Tree
	bodies int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		log:  golog.LoggerFor("httpsepreload-indexer"),
		tree: radix.New(),
	}
}

// BuildIndex indexes normalized rulesets in order.
func BuildIndex(rulesets []*NormalizedRuleset) *Index {
	ix := NewIndex()
	for _, rs := range rulesets {
		ix.Add(rs)
	}
	ix.log.Debugf("Indexed %v rule bodies under %v keys", ix.bodies, ix.Len())
	return ix
}

// Add registers the ruleset's compacted body under the reverse key of each of
// its targets. A ruleset without rules registers nothing, and a target listed
// twice in one ruleset is registered once.
func (ix *Index) Add(rs *NormalizedRuleset) {
	body := Compact(rs)
	if len(body.Rules) == 0 {
		return
	}
	seen := make(map[string]bool, len(rs.Targets))
	for _, host := range rs.Targets {
		key := ReverseHost(host)
		if seen[key] {
			continue
		}
		seen[key] = true
		var bodies []Body
		if existing, ok := ix.tree.Get(key); ok {
			bodies = existing.([]Body)
		}
		ix.tree.Insert(key, append(bodies, body))
		ix.bodies++
	}
}

// Len returns the number of keys.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// BodyCount returns the number of bodies registered across all keys.
func (ix *Index) BodyCount() int {
	return ix.bodies
}

// Bodies returns the bodies registered for host.
func (ix *Index) Bodies(host string) []Body {
	if v, ok := ix.tree.Get(ReverseHost(host)); ok {
		return v.([]Body)
	}
	return nil
}

// Walk calls fn for every key in sorted order, stopping at the first error.
func (ix *Index) Walk(fn func(key string, bodies []Body) error) error {
	var err error
	ix.tree.Walk(func(key string, v interface{}) bool {
		bodies := v.([]Body)
		if len(bodies) == 0 {
			return false
		}
		err = fn(key, bodies)
		return err != nil
	})
	return err
}

// WriteStore writes every key with its JSON encoded body list into st, one Put
// per key in sorted order.
func (ix *Index) WriteStore(st Store) (int, error) {
	written := 0
	err := ix.Walk(func(key string, bodies []Body) error {
		value, err := marshal(bodies)
		if err != nil {
			return err
		}
		if err := st.Put([]byte(key), value); err != nil {
			return err
		}
		written++
		return nil
	})
	return written, err
}
