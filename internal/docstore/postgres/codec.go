package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

// timeLayout is fixed width so that stored times order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const dateKey = "$date"

func newID() string {
	return uuid.NewString()
}

func encodeTime(t time.Time) map[string]string {
	return map[string]string{dateKey: t.UTC().Format(timeLayout)}
}

// encodeFields returns the JSON body of fields and the names of fields that
// take the server timestamp.
func encodeFields(fields docstore.Fields) (string, []string, error) {
	body := make(map[string]any, len(fields))
	var stamps []string
	for k, v := range fields {
		switch x := v.(type) {
		case time.Time:
			body[k] = encodeTime(x)
		default:
			if docstore.IsServerTimestamp(v) {
				stamps = append(stamps, k)
				continue
			}
			body[k] = v
		}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", nil, errors.Wrap(err, "encode fields")
	}
	if stamps == nil {
		stamps = []string{}
	}
	return string(b), stamps, nil
}

func decodeFields(raw []byte) (docstore.Fields, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "decode fields")
	}
	out := make(docstore.Fields, len(m))
	for k, v := range m {
		out[k] = decodeValue(v)
	}
	return out, nil
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x[dateKey].(string); ok && len(x) == 1 {
			if t, err := time.Parse(timeLayout, s); err == nil {
				return t
			}
		}
		out := make(docstore.Fields, len(x))
		for k, item := range x {
			out[k] = decodeValue(item)
		}
		return out
	case []any:
		for i, item := range x {
			x[i] = decodeValue(item)
		}
		return x
	default:
		return v
	}
}
