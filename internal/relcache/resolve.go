package relcache

import (
	"net/url"
	"path"
	"regexp"
	"slices"
	"strings"
)

var (
	wikilinkRe = regexp.MustCompile(`^\[\[(.*?)\]\]$`)
	mdLinkRe   = regexp.MustCompile(`^\[[^\]]*\]\(([^)]*)\)$`)
)

// uidPrefix marks a reference by stable id rather than by path.
const uidPrefix = "uid:"

// normalizeRef strips link syntax from a raw reference, leaving a vault path
// (relative or absolute, always ending in .md) or a "uid:" key.
// It returns "" when nothing usable remains.
func normalizeRef(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(s), uidPrefix) {
		id := strings.TrimSpace(s[len(uidPrefix):])
		if id == "" {
			return ""
		}
		return uidPrefix + id
	}
	if m := wikilinkRe.FindStringSubmatch(s); m != nil {
		s = m[1]
		if i := strings.Index(s, "|"); i >= 0 {
			s = s[:i]
		}
	} else if m := mdLinkRe.FindStringSubmatch(s); m != nil {
		s = m[1]
		if u, err := url.PathUnescape(s); err == nil {
			s = u
		}
	}
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(s), ".md") {
		s += ".md"
	}
	return s
}

// baseKey is the case-insensitive note name of p, used for basename lookups.
func baseKey(p string) string {
	b := path.Base(p)
	return strings.ToLower(strings.TrimSuffix(b, path.Ext(b)))
}

// danglingKey groups unresolved references by the name that would satisfy them.
func danglingKey(ref string) string {
	if strings.HasPrefix(ref, uidPrefix) {
		return ref
	}
	return baseKey(ref)
}

// resolve maps a normalized reference declared by source to an indexed task
// path. Order: stable id, path relative to source's directory, vault-absolute
// path, unique-or-closest basename, then the renames source's references
// followed. Live nodes always win over renames.
func (c *Cache) resolve(source, ref string) (string, bool) {
	if strings.HasPrefix(ref, uidPrefix) {
		p, ok := c.ids[strings.TrimPrefix(ref, uidPrefix)]
		return p, ok
	}
	for _, p := range pathCandidates(source, ref) {
		if _, ok := c.nodes[p]; ok {
			return p, true
		}
	}
	if !strings.Contains(ref, "/") {
		if p, ok := c.byBasename(source, ref); ok {
			return p, true
		}
	}
	moved := c.movedTargets(source, ref)
	for i := len(moved) - 1; i >= 0; i-- {
		if _, ok := c.nodes[moved[i]]; ok {
			return moved[i], true
		}
	}
	return "", false
}

// movedTargets returns, oldest first, the paths ref was carried to by the
// renames recorded on source.
func (c *Cache) movedTargets(source, ref string) []string {
	n, ok := c.nodes[source]
	if !ok || strings.HasPrefix(ref, uidPrefix) {
		return nil
	}
	var out []string
	cur := ""
	for _, mv := range n.moves {
		if (cur == "" && names(source, ref, mv.from)) || (cur != "" && mv.from == cur) {
			cur = mv.to
			out = append(out, cur)
		}
	}
	return out
}

// names reports whether ref, declared by source, designates target by path
// or by basename.
func names(source, ref, target string) bool {
	if slices.Contains(pathCandidates(source, ref), target) {
		return true
	}
	return !strings.Contains(ref, "/") && baseKey(ref) == baseKey(target)
}

// pruneMoves keeps the recorded renames still reachable from refs.
func pruneMoves(source string, refs [numKinds][][]string, moves []move) []move {
	var out []move
	reached := set{}
	for _, mv := range moves {
		_, chained := reached[mv.from]
		if !chained && !declares(source, refs, mv.from) {
			continue
		}
		out = append(out, mv)
		reached[mv.to] = struct{}{}
	}
	return out
}

func declares(source string, refs [numKinds][][]string, target string) bool {
	for _, kind := range refs {
		for _, alts := range kind {
			for _, alt := range alts {
				if !strings.HasPrefix(alt, uidPrefix) && names(source, alt, target) {
					return true
				}
			}
		}
	}
	return false
}

func pathCandidates(source, ref string) []string {
	var out []string
	if !strings.HasPrefix(ref, "/") {
		rel := path.Join(path.Dir(source), ref)
		if !strings.HasPrefix(rel, "../") {
			out = append(out, rel)
		}
	}
	abs := path.Clean(strings.TrimPrefix(ref, "/"))
	if len(out) == 0 || out[0] != abs {
		out = append(out, abs)
	}
	return out
}

// byBasename picks among nodes sharing ref's name: same directory as source
// first, then the shortest path, then lexical order.
func (c *Cache) byBasename(source, ref string) (string, bool) {
	paths := c.bases[baseKey(ref)]
	if len(paths) == 0 {
		return "", false
	}
	dir := path.Dir(source)
	best := ""
	for p := range paths {
		if path.Dir(p) == dir {
			return p, true
		}
		if best == "" || len(p) < len(best) || (len(p) == len(best) && p < best) {
			best = p
		}
	}
	return best, true
}
