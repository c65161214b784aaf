// Package relcache maintains the path-keyed blocking and project/subtask
// adjacency between task notes.
//
// For each edge kind the cache keeps a forward and a reverse map that are
// mutual inverses at every point between two operations. Edges are declared by
// one endpoint (a blocked task names its blockers, a subtask names its projects)
// and both endpoints must pass the task Identifier.
//
// A Cache is not safe for concurrent use; the engine serializes access.
package relcache

import (
	"maps"
	"slices"

	"github.com/starford/raido/internal/models"
)

// Kind is an edge kind.
type Kind int

const (
	// Blocks points from a blocking task to the task it blocks.
	Blocks Kind = iota
	// HasSubtask points from a project note to one of its subtasks.
	HasSubtask
	numKinds
)

func (k Kind) String() string {
	if k == Blocks {
		return "blocks"
	}
	return "has_subtask"
}

type set map[string]struct{}

type adjacency struct {
	forward map[string]set
	reverse map[string]set
}

func newAdjacency() adjacency {
	return adjacency{forward: map[string]set{}, reverse: map[string]set{}}
}

func (a *adjacency) add(src, dst string) {
	addTo(a.forward, src, dst)
	addTo(a.reverse, dst, src)
}

func addTo(m map[string]set, k, v string) {
	s, ok := m[k]
	if !ok {
		s = set{}
		m[k] = s
	}
	s[v] = struct{}{}
}

func removeFrom(m map[string]set, k, v string) {
	s, ok := m[k]
	if !ok {
		return
	}
	delete(s, v)
	if len(s) == 0 {
		delete(m, k)
	}
}

// node is one indexed task.
type node struct {
	task *models.Task
	// refs holds, per kind, the declared references; each reference is a list
	// of alternative keys (stable id first, then path) resolved in order.
	refs [numKinds][][]string
	// dangling lists the keys under which this node waits for a target.
	dangling []string
	// moves records, oldest first, the renames of targets this note's
	// references were re-linked across.
	moves []move
}

type move struct{ from, to string }

// Cache is the relationship index.
type Cache struct {
	ident Identifier
	nodes map[string]*node
	ids   map[string]string
	bases map[string]set
	adj   [numKinds]adjacency

	dangling map[string]set

	touched set
}

// New returns an empty cache gated by ident.
func New(ident Identifier) *Cache {
	c := &Cache{
		ident:    ident,
		nodes:    map[string]*node{},
		ids:      map[string]string{},
		bases:    map[string]set{},
		dangling: map[string]set{},
	}
	for k := range c.adj {
		c.adj[k] = newAdjacency()
	}
	return c
}

// IndexFile (re)indexes path from its parsed metadata and returns the paths
// whose relations changed. A note failing the Identifier is removed instead.
func (c *Cache) IndexFile(path string, t *models.Task) []string {
	c.touched = set{}
	c.index(path, t)
	return c.flush()
}

// RemoveFile drops path and every edge naming it. Tasks that referenced it
// keep their declaration and are re-linked if the note comes back.
func (c *Cache) RemoveFile(path string) []string {
	c.touched = set{}
	c.remove(path, true)
	return c.flush()
}

// RenameFile moves oldPath to newPath. Edges other notes declared against
// oldPath are re-resolved and end up pointing at newPath. Only those notes
// follow the rename; a reference declared later resolves as it would in a
// cache rebuilt from scratch.
func (c *Cache) RenameFile(oldPath, newPath string, t *models.Task) []string {
	c.touched = set{}
	var carried []move
	if n, ok := c.nodes[oldPath]; ok {
		carried = n.moves
	}
	referrers := c.remove(oldPath, false)
	c.index(newPath, t)
	if n, ok := c.nodes[newPath]; ok && len(carried) > 0 {
		if n.moves = pruneMoves(newPath, n.refs, carried); len(n.moves) > 0 {
			c.relink(newPath)
		}
	}
	for _, r := range referrers {
		n, ok := c.nodes[r]
		if !ok || r == oldPath {
			continue
		}
		if oldPath != newPath {
			n.moves = append(n.moves, move{from: oldPath, to: newPath})
		}
		c.relink(r)
	}
	c.touched[oldPath] = struct{}{}
	return c.flush()
}

func (c *Cache) flush() []string {
	out := slices.Sorted(maps.Keys(c.touched))
	c.touched = nil
	return out
}

func (c *Cache) touch(paths ...string) {
	if c.touched == nil {
		return
	}
	for _, p := range paths {
		c.touched[p] = struct{}{}
	}
}

func (c *Cache) index(path string, t *models.Task) {
	if t == nil || !c.ident.IsTask(t) {
		c.remove(path, true)
		return
	}
	prev, existed := c.nodes[path]
	n := &node{task: t.Clone(), refs: declaredRefs(t)}
	if existed {
		c.unregister(path, prev)
		n.moves = pruneMoves(path, n.refs, prev.moves)
	}
	c.nodes[path] = n
	c.register(path, n)
	c.touch(path)

	c.clearDeclared(path, prev)
	c.link(path, n)

	if !existed || prev.task.ID != t.ID {
		c.wake(path, n)
	}
}

// remove deletes path as a node and returns the notes that had declared an
// edge to it. With relink set they are re-resolved immediately.
func (c *Cache) remove(path string, relink bool) []string {
	n, ok := c.nodes[path]
	if !ok {
		return nil
	}
	c.touch(path)
	c.clearDeclared(path, n)

	var referrers []string
	for k := range c.adj {
		a := &c.adj[k]
		for r := range a.forward[path] {
			removeFrom(a.reverse, r, path)
			referrers = append(referrers, r)
			c.touch(r)
		}
		delete(a.forward, path)
	}
	c.unregister(path, n)
	delete(c.nodes, path)

	slices.Sort(referrers)
	referrers = slices.Compact(referrers)
	if relink {
		for _, r := range referrers {
			c.relink(r)
		}
	}
	return referrers
}

// clearDeclared removes the edges path declared and its dangling waits.
func (c *Cache) clearDeclared(path string, n *node) {
	for k := range c.adj {
		a := &c.adj[k]
		for target := range a.reverse[path] {
			removeFrom(a.forward, target, path)
			c.touch(target)
		}
		delete(a.reverse, path)
	}
	if n == nil {
		return
	}
	for _, key := range n.dangling {
		removeFrom(c.dangling, key, path)
	}
	n.dangling = nil
}

// link resolves the declarations of n and writes its edges.
func (c *Cache) link(path string, n *node) {
	for k, refs := range n.refs {
		a := &c.adj[k]
		for _, alts := range refs {
			target, ok := c.resolveAny(path, alts)
			if !ok {
				for _, alt := range alts {
					keys := []string{danglingKey(alt)}
					for _, to := range c.movedTargets(path, alt) {
						keys = append(keys, baseKey(to))
					}
					for _, key := range keys {
						addTo(c.dangling, key, path)
						n.dangling = append(n.dangling, key)
					}
				}
				continue
			}
			if target == path {
				continue
			}
			a.add(target, path)
			c.touch(target, path)
		}
	}
}

func (c *Cache) relink(path string) {
	n, ok := c.nodes[path]
	if !ok {
		return
	}
	c.clearDeclared(path, n)
	c.link(path, n)
}

func (c *Cache) resolveAny(source string, alts []string) (string, bool) {
	for _, ref := range alts {
		if p, ok := c.resolve(source, ref); ok {
			return p, true
		}
	}
	return "", false
}

// wake re-links notes that were waiting for a target named like n.
func (c *Cache) wake(path string, n *node) {
	keys := []string{baseKey(path)}
	if n.task.ID != "" {
		keys = append(keys, uidPrefix+n.task.ID)
	}
	var waiting []string
	for _, key := range keys {
		for p := range c.dangling[key] {
			waiting = append(waiting, p)
		}
	}
	slices.Sort(waiting)
	for _, p := range slices.Compact(waiting) {
		if p != path {
			c.relink(p)
		}
	}
}

func (c *Cache) register(path string, n *node) {
	addTo(c.bases, baseKey(path), path)
	if n.task.ID != "" {
		c.ids[n.task.ID] = path
	}
}

func (c *Cache) unregister(path string, n *node) {
	removeFrom(c.bases, baseKey(path), path)
	if id := n.task.ID; id != "" && c.ids[id] == path {
		delete(c.ids, id)
	}
}

func declaredRefs(t *models.Task) [numKinds][][]string {
	var out [numKinds][][]string
	for _, ref := range t.BlockedBy {
		var alts []string
		if ref.UID != "" {
			alts = append(alts, uidPrefix+ref.UID)
		}
		if r := normalizeRef(ref.Target); r != "" {
			alts = append(alts, r)
		}
		if len(alts) > 0 {
			out[Blocks] = append(out[Blocks], alts)
		}
	}
	for _, p := range t.Projects {
		if r := normalizeRef(p); r != "" {
			out[HasSubtask] = append(out[HasSubtask], []string{r})
		}
	}
	return out
}

// Blockers returns the tasks that block path.
func (c *Cache) Blockers(path string) []string { return sorted(c.adj[Blocks].reverse[path]) }

// Blocked returns the tasks path blocks.
func (c *Cache) Blocked(path string) []string { return sorted(c.adj[Blocks].forward[path]) }

// SubtasksOf returns the tasks that name path as a project.
func (c *Cache) SubtasksOf(path string) []string { return sorted(c.adj[HasSubtask].forward[path]) }

// ProjectsOf returns the projects path names.
func (c *Cache) ProjectsOf(path string) []string { return sorted(c.adj[HasSubtask].reverse[path]) }

func sorted(s set) []string {
	if len(s) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(s))
}

// Has reports whether path is an indexed task.
func (c *Cache) Has(path string) bool {
	_, ok := c.nodes[path]
	return ok
}

// Task returns a copy of the metadata path was indexed with.
func (c *Cache) Task(path string) (*models.Task, bool) {
	n, ok := c.nodes[path]
	if !ok {
		return nil, false
	}
	return n.task.Clone(), true
}

// Paths returns every indexed task path in lexical order.
func (c *Cache) Paths() []string {
	return slices.Sorted(maps.Keys(c.nodes))
}

// Len returns the number of indexed tasks.
func (c *Cache) Len() int { return len(c.nodes) }

// ResolveID maps a stable task id to its current path.
func (c *Cache) ResolveID(id string) (string, bool) {
	p, ok := c.ids[id]
	return p, ok
}
