package relcache

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"
)

// ErrCycle is returned by BlockingOrder when blocking edges form a cycle.
var ErrCycle = errors.New("relcache: blocking cycle")

// BlockingOrder returns every indexed task such that each blocker precedes the
// tasks it blocks.
func (c *Cache) BlockingOrder() ([]string, error) {
	blocks := c.adj[Blocks]
	var edges []toposort.Edge
	for _, p := range c.Paths() {
		blockers := sorted(blocks.reverse[p])
		if len(blockers) == 0 {
			edges = append(edges, toposort.Edge{nil, p})
			continue
		}
		for _, b := range blockers {
			edges = append(edges, toposort.Edge{b, p})
		}
	}
	if len(edges) == 0 {
		return []string{}, nil
	}

	ordered, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}
	out := make([]string, 0, len(ordered))
	for _, v := range ordered {
		if v != nil {
			out = append(out, v.(string))
		}
	}
	return out, nil
}

// Check verifies the structural invariants: forward and reverse maps are
// mutual inverses, every endpoint is an indexed task, and no set is empty.
func (c *Cache) Check() error {
	for k := range c.adj {
		kind := Kind(k)
		a := c.adj[k]
		if err := inverse(kind, "forward", a.forward, a.reverse); err != nil {
			return err
		}
		if err := inverse(kind, "reverse", a.reverse, a.forward); err != nil {
			return err
		}
		for src, dsts := range a.forward {
			if !c.Has(src) {
				return fmt.Errorf("relcache: %s: %s is not an indexed task", kind, src)
			}
			for dst := range dsts {
				if !c.Has(dst) {
					return fmt.Errorf("relcache: %s: %s is not an indexed task", kind, dst)
				}
			}
		}
	}
	return nil
}

func inverse(kind Kind, name string, m, other map[string]set) error {
	for a, bs := range m {
		if len(bs) == 0 {
			return fmt.Errorf("relcache: %s %s[%s] is empty", kind, name, a)
		}
		for b := range bs {
			if _, ok := other[b][a]; !ok {
				return fmt.Errorf("relcache: %s %s[%s] has %s without inverse", kind, name, a, b)
			}
		}
	}
	return nil
}
