package header

import (
	"context"
	"net/http"
	"slices"
)

// canonical is the conventional browser-like sequence headers are written in.
var canonical = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Pragma",
	"Cache-Control",
	"Accept",
	"Origin",
	"X-Requested-With",
	"User-Agent",
	"Content-Type",
	"Referer",
	"Accept-Encoding",
	"Accept-Language",
	"Cookie",
}

var rank = func() map[string]int {
	m := make(map[string]int, len(canonical))
	for i, k := range canonical {
		m[k] = i
	}
	return m
}()

// Canonical returns a copy of the canonical header sequence.
func Canonical() []string {
	return slices.Clone(canonical)
}

type orderKey struct{}

// WithOrder returns a context recording the order keys were first set on a
// request. Order ranks non-canonical headers by it.
func WithOrder(ctx context.Context, keys []string) context.Context {
	return context.WithValue(ctx, orderKey{}, keys)
}

// OrderFrom returns the key order recorded in ctx, if any.
func OrderFrom(ctx context.Context) []string {
	keys, _ := ctx.Value(orderKey{}).([]string)
	return keys
}

// Order returns the keys of h in transmission order: the canonical
// sequence first, then keys in the order given by set, then every other key
// in lexical order.
func Order(h http.Header, set ...string) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, http.CanonicalHeaderKey(k))
	}

	setRank := make(map[string]int, len(set))
	for i, k := range set {
		ck := http.CanonicalHeaderKey(k)
		if _, ok := setRank[ck]; !ok {
			setRank[ck] = i
		}
	}

	// Canonical keys sort by their own rank; set keys follow, then the rest.
	tier := func(k string) (int, int) {
		if r, ok := rank[k]; ok {
			return 0, r
		}
		if r, ok := setRank[k]; ok {
			return 1, r
		}
		return 2, 0
	}

	slices.SortStableFunc(keys, func(a, b string) int {
		ta, ra := tier(a)
		tb, rb := tier(b)
		switch {
		case ta != tb:
			return ta - tb
		case ra != rb:
			return ra - rb
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	})

	return slices.Compact(keys)
}
