package docstore

import (
	"cmp"
	"strings"
	"time"
)

// Join builds a collection path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidatePath checks that path has an odd number of non-empty segments,
// alternating collection and document ids.
func ValidatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return ErrInvalidPath
	}
	for _, p := range parts {
		if p == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

// ValidateID rejects ids that would break path addressing.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return ErrInvalidPath
	}
	return nil
}

// Split returns the parent document path and the collection name.
// "chats/c1/messages" gives ("chats/c1", "messages"); "users" gives ("", "users").
func Split(path string) (parent, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// CompareValues orders field values the way live queries sort them:
// missing values first, then booleans, numbers, strings, and times.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		return cmp.Compare(fa, fb)
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	default:
		return 5
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Reverse reverses docs in place.
func Reverse(docs []Document) {
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
}
