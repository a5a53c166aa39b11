package core

import (
	"encoding/json"
	"reflect"
)

// Diff returns the keys of cur whose values differ from base, recursing
// into nested objects. Keys only present in base are not reported.
// Arrays and scalars are compared as whole values; numbers compare by
// value, so 100 and 100.0 are equal.
func Diff(base, cur Record) Record {
	out := make(Record)
	for k, cv := range cur {
		bv, ok := base[k]
		if !ok {
			out[k] = cv
			continue
		}
		cm, curIsObj := cv.(map[string]any)
		bm, baseIsObj := bv.(map[string]any)
		if curIsObj && baseIsObj {
			if sub := Diff(bm, cm); len(sub) > 0 {
				out[k] = sub
			}
			continue
		}
		if !equal(bv, cv) {
			out[k] = cv
		}
	}
	return out
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// numbersEqual compares integers exactly and falls back to float64 for
// everything else.
func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ai, aerr := a.Int64()
	bi, berr := b.Int64()
	if aerr == nil && berr == nil {
		return ai == bi
	}
	af, aerr := a.Float64()
	bf, berr := b.Float64()
	if aerr != nil || berr != nil {
		return false
	}
	return af == bf
}
