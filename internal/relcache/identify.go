package relcache

import (
	"fmt"
	"strings"

	"github.com/starford/raido/internal/models"
)

// Identifier decides whether a note counts as a task. Notes it rejects never
// become nodes of the cache.
type Identifier interface {
	IsTask(t *models.Task) bool
}

// TagIdentifier accepts notes carrying Tag or one of its hierarchical children
// ("task" matches "task" and "task/work", never "tasks").
type TagIdentifier struct {
	Tag string
}

func (i TagIdentifier) IsTask(t *models.Task) bool {
	want := normalizeTag(i.Tag)
	if want == "" {
		return false
	}
	for _, tag := range t.Tags {
		tag = normalizeTag(tag)
		if tag == want || strings.HasPrefix(tag, want+"/") {
			return true
		}
	}
	return false
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
}

// PropertyIdentifier accepts notes whose frontmatter property Name equals
// Value. List values match when any element does. An empty Value only
// requires the property to be present.
type PropertyIdentifier struct {
	Name  string
	Value string
}

func (i PropertyIdentifier) IsTask(t *models.Task) bool {
	v, ok := t.Properties[i.Name]
	if !ok || v == nil {
		return false
	}
	if i.Value == "" {
		return true
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if matchesValue(item, i.Value) {
				return true
			}
		}
		return false
	}
	return matchesValue(v, i.Value)
}

func matchesValue(v any, want string) bool {
	return strings.EqualFold(strings.TrimSpace(fmt.Sprint(v)), want)
}
