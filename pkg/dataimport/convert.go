package dataimport

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

func Trim(_ context.Context, value, _ string) any {
	return strings.TrimSpace(value)
}

func Upper(_ context.Context, value, _ string) any {
	return strings.ToUpper(strings.TrimSpace(value))
}

func ToInt(_ context.Context, value, _ string) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return int64(0)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return v
	}
	return n
}

// SplitList splits a comma (or semicolon) joined cell into trimmed non-empty parts.
func SplitList(_ context.Context, value, _ string) any {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ToTimestamp parses a date with the first matching layout in loc.
func ToTimestamp(loc *time.Location, layouts ...string) Converter {
	if loc == nil {
		loc = time.UTC
	}
	if len(layouts) == 0 {
		layouts = []string{"02/01/2006", time.DateOnly, time.RFC3339}
	}
	return func(_ context.Context, value, _ string) any {
		v := strings.TrimSpace(value)
		if v == "" {
			return v
		}
		for _, layout := range layouts {
			if t, err := time.ParseInLocation(layout, v, loc); err == nil {
				return t
			}
		}
		return v
	}
}

type LookupFunc func(ctx context.Context, key string) (int64, error)

// Lookup resolves a key to an id and memoizes the answer for the lifetime of the converter.
// A miss or a failed lookup yields 0.
func Lookup(fn LookupFunc, normalize func(string) string) Converter {
	var mu sync.Mutex
	cache := map[string]int64{}
	return func(ctx context.Context, value, _ string) any {
		key := strings.TrimSpace(value)
		if normalize != nil {
			key = normalize(key)
		}
		if key == "" {
			return int64(0)
		}
		mu.Lock()
		id, ok := cache[key]
		mu.Unlock()
		if ok {
			return id
		}
		id, err := fn(ctx, key)
		if err != nil {
			id = 0
		}
		mu.Lock()
		cache[key] = id
		mu.Unlock()
		return id
	}
}
