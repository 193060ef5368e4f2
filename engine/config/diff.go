package config

import (
	"reflect"

	"github.com/czvisa/monitor/engine/store"
)

// Diff describes the change between two successive loads of the declarative
// config file.
type Diff struct {
	Added            []string
	Removed          []string
	Modified         []string // frequency, channel, target, note, or query type changed
	DefaultFreqChanged bool
}

// IsEmpty reports whether the diff carries no actionable change.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0 && !d.DefaultFreqChanged
}

// ComputeDiff compares an old and new spec set, plus the default frequency
// each was resolved against, and reports what changed.
func ComputeDiff(oldSpecs, newSpecs map[string]store.CodeSpec, oldDefaultFreq, newDefaultFreq int) Diff {
	var d Diff
	d.DefaultFreqChanged = oldDefaultFreq != newDefaultFreq

	for code := range newSpecs {
		if _, ok := oldSpecs[code]; !ok {
			d.Added = append(d.Added, code)
		}
	}
	for code := range oldSpecs {
		if _, ok := newSpecs[code]; !ok {
			d.Removed = append(d.Removed, code)
		}
	}
	for code, newSpec := range newSpecs {
		oldSpec, ok := oldSpecs[code]
		if !ok {
			continue
		}
		if specChanged(oldSpec, newSpec) {
			d.Modified = append(d.Modified, code)
		}
	}
	return d
}

func specChanged(a, b store.CodeSpec) bool {
	if a.Channel != b.Channel || a.Target != b.Target || a.Note != b.Note || a.QueryType != b.QueryType {
		return true
	}
	return !reflect.DeepEqual(a.FreqMinutes, b.FreqMinutes)
}
