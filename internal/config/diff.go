package config

import (
	"reflect"
	"sort"
	"strings"

	logx "databay/pkg/logx"
)

// LinkDiff is the set of link changes between two configs, keyed by name.
// A link whose interval, tags or action changed is listed in Changed with its
// new definition.
type LinkDiff struct {
	Added   []LinkConfig
	Removed []LinkConfig
	Changed []LinkConfig
}

func (d LinkDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffLinks compares enabled links by name. Output is sorted by name.
func DiffLinks(oldLinks, newLinks []LinkConfig) LinkDiff {
	oldByName := enabledByName(oldLinks)
	newByName := enabledByName(newLinks)

	var d LinkDiff
	for name, nl := range newByName {
		ol, ok := oldByName[name]
		switch {
		case !ok:
			d.Added = append(d.Added, nl)
		case !sameLink(ol, nl):
			d.Changed = append(d.Changed, nl)
		}
	}
	for name, ol := range oldByName {
		if _, ok := newByName[name]; !ok {
			d.Removed = append(d.Removed, ol)
		}
	}
	sortLinks(d.Added)
	sortLinks(d.Removed)
	sortLinks(d.Changed)
	return d
}

// SummarizeChange lists the changed sections and safe attrs for logging.
// Commands, urls and bodies are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 8)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Planner, newCfg.Planner) {
		changed = append(changed, "planner")
		attrs = append(attrs, logx.Bool("planner.catch_errors", newCfg.Planner.CatchErrors))
	}
	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs, logx.String("history.driver", newCfg.History.NormalizedDriver()))
	}
	if d := DiffLinks(oldCfg.Links, newCfg.Links); !d.Empty() {
		changed = append(changed, "links")
		attrs = append(attrs,
			logx.Strs("links.added", linkNames(d.Added)),
			logx.Strs("links.removed", linkNames(d.Removed)),
			logx.Strs("links.changed", linkNames(d.Changed)),
		)
	}
	return changed, attrs
}

func enabledByName(links []LinkConfig) map[string]LinkConfig {
	out := make(map[string]LinkConfig, len(links))
	for _, l := range links {
		name := strings.TrimSpace(l.Name)
		if name == "" || l.Disabled {
			continue
		}
		out[name] = l
	}
	return out
}

func sameLink(a, b LinkConfig) bool {
	return strings.TrimSpace(a.Interval) == strings.TrimSpace(b.Interval) &&
		reflect.DeepEqual(a.Tags, b.Tags) &&
		a.Action == b.Action
}

func sortLinks(ls []LinkConfig) {
	sort.Slice(ls, func(i, j int) bool { return strings.TrimSpace(ls[i].Name) < strings.TrimSpace(ls[j].Name) })
}

func linkNames(ls []LinkConfig) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, strings.TrimSpace(l.Name))
	}
	return out
}
