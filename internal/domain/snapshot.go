package domain

import (
	"encoding/json"
	"math"
	"strings"
)

// Snapshot is the flat set of named input values for one entity at one
// point in time. Values are numbers, booleans, strings or nil.
//
// Keys of the form "<timeframe>.<name>" are scoped: while a timeframe is
// evaluated they shadow "<name>".
type Snapshot map[string]any

// Scoped returns the view of the snapshot seen while evaluating timeframe.
// The receiver is returned unchanged when it holds no keys for timeframe.
func (s Snapshot) Scoped(timeframe string) Snapshot {
	prefix := strings.ToLower(timeframe) + "."
	var view Snapshot
	for k, v := range s {
		if len(k) <= len(prefix) || !strings.EqualFold(k[:len(prefix)], prefix) {
			continue
		}
		if view == nil {
			view = make(Snapshot, len(s))
			for kk, vv := range s {
				view[kk] = vv
			}
		}
		view[k[len(prefix):]] = v
	}
	if view == nil {
		return s
	}
	return view
}

// HasAny reports whether any of names carries data, either directly or
// through a timeframe-scoped key. Nil, NaN and infinite values do not.
func (s Snapshot) HasAny(names []string) bool {
	if len(s) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		if present(s[n]) {
			return true
		}
		want[n] = struct{}{}
	}
	for k, v := range s {
		if !present(v) {
			continue
		}
		if i := strings.IndexByte(k, '.'); i >= 0 {
			if _, ok := want[k[i+1:]]; ok {
				return true
			}
		}
	}
	return false
}

// Number returns the named value as a float64. Absent, nil, non-numeric
// and non-finite values report false.
func (s Snapshot) Number(name string) (float64, bool) {
	f, ok := Float(s[name])
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Float converts any Go numeric type or json.Number to a float64.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// present reports whether v carries data. NaN and infinities do not.
func present(v any) bool {
	if v == nil {
		return false
	}
	if f, ok := Float(v); ok {
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}
