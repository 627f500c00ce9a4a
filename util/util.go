package util

import (
	"iter"
	"maps"
	"os"
	"slices"
	"strings"
)

// TransformSlice maps every element of in through converter.
func TransformSlice[T any, R any](in []T, converter func(T) R) []R {
	out := make([]R, len(in))
	for i, v := range in {
		out[i] = converter(v)
	}
	return out
}

// FilterSlice keeps the elements for which keep returns true.
func FilterSlice[T any](in []T, keep func(T) bool) []T {
	var out []T
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// CanonicalMapIter yields map entries in sorted key order so that rendered
// statements do not depend on map iteration order.
func CanonicalMapIter[T any](m map[string]T) iter.Seq2[string, T] {
	return func(yield func(string, T) bool) {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}

// EnvProduction is the environment variable consulted when no environment is
// configured explicitly.
const EnvProduction = "CQLDEF_ENV"

// IsProduction reports whether environment (or $CQLDEF_ENV when environment
// is empty) names a production deployment.
func IsProduction(environment string) bool {
	if environment == "" {
		environment = os.Getenv(EnvProduction)
	}
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "production", "prod":
		return true
	}
	return false
}
