package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/starford/raido/internal/ledger"
	"github.com/starford/raido/internal/relcache"
)

// Identification methods.
const (
	IdentifyByTag      = "tag"
	IdentifyByProperty = "property"
)

// Identification configures which notes count as tasks.
type Identification struct {
	Method   string
	Tag      string
	Property string
	Value    string
}

// Settings are the engine options that can change at runtime.
type Settings struct {
	Identification    Identification
	DoneStatus        string
	CompletedStatuses []string
	FirstDayOfWeek    int
	MaxInstances      int
	ReindexChunk      int `hash:"ignore"`
}

// DefaultSettings mirror the defaults of the config file.
func DefaultSettings() Settings {
	return Settings{
		Identification:    Identification{Method: IdentifyByTag, Tag: "task"},
		DoneStatus:        ledger.DefaultCompletedStatus,
		CompletedStatuses: []string{ledger.DefaultCompletedStatus},
		FirstDayOfWeek:    1,
		MaxInstances:      500,
		ReindexChunk:      200,
	}
}

// normalized returns the form used at runtime: trimmed, case-folded where case
// carries no meaning, deduplicated. CompletedStatuses keeps its configured
// order, since the first entry is the ledger's fallback done status.
func (s Settings) normalized() Settings {
	out := s
	out.Identification.Method = strings.ToLower(strings.TrimSpace(s.Identification.Method))
	if out.Identification.Method == "" {
		out.Identification.Method = IdentifyByTag
	}
	out.Identification.Tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.Identification.Tag), "#"))
	out.Identification.Property = strings.TrimSpace(s.Identification.Property)
	out.Identification.Value = strings.TrimSpace(s.Identification.Value)
	out.DoneStatus = strings.TrimSpace(s.DoneStatus)

	var statuses []string
	for _, st := range s.CompletedStatuses {
		if st = strings.TrimSpace(st); st != "" && !slices.Contains(statuses, st) {
			statuses = append(statuses, st)
		}
	}
	out.CompletedStatuses = statuses
	if out.ReindexChunk <= 0 {
		out.ReindexChunk = DefaultSettings().ReindexChunk
	}
	return out
}

// Fingerprint hashes the normalized settings. Reordered lists and nil versus
// empty values produce the same fingerprint.
func (s Settings) Fingerprint() (uint64, error) {
	c := s.normalized()
	slices.Sort(c.CompletedStatuses)
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, &hashstructure.HashOptions{
		SlicesAsSets: true,
		ZeroNil:      true,
	})
	if err != nil {
		return 0, fmt.Errorf("engine: settings fingerprint: %w", err)
	}
	return h, nil
}

// Identifier builds the task gate described by the settings.
func (s Settings) Identifier() relcache.Identifier {
	id := s.normalized().Identification
	if id.Method == IdentifyByProperty {
		return relcache.PropertyIdentifier{Name: id.Property, Value: id.Value}
	}
	return relcache.TagIdentifier{Tag: id.Tag}
}

func (s Settings) ledgerOptions() ledger.Options {
	return ledger.Options{DoneStatus: s.DoneStatus, CompletedStatuses: s.CompletedStatuses}
}
