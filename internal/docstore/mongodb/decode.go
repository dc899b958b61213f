package mongodb

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/directchat/internal/docstore"
)

func decodeDocument(raw bson.M) docstore.Document {
	doc := docstore.Document{Fields: docstore.Fields{}}
	if key, ok := raw["_key"].(string); ok {
		doc.ID = key
	}
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		doc.Fields[k] = decodeValue(v)
	}
	return doc
}

// decodeValue converts driver types to the plain Go values docstore.Fields uses.
func decodeValue(v any) any {
	switch x := v.(type) {
	case bson.DateTime:
		return x.Time().UTC()
	case bson.A:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = decodeValue(item)
		}
		return out
	case bson.M:
		out := docstore.Fields{}
		for k, item := range x {
			out[k] = decodeValue(item)
		}
		return out
	case bson.D:
		out := docstore.Fields{}
		for _, e := range x {
			out[e.Key] = decodeValue(e.Value)
		}
		return out
	case int32:
		return int64(x)
	default:
		return v
	}
}
