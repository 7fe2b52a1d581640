package persist

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/a3tai/mcp-docfill/internal/docfill/store"
)

// ParseAttachments reads an attachment field value. Anything that is not a
// list reads as empty, and entries without a token are dropped.
func ParseAttachments(value any) []store.Attachment {
	var out []store.Attachment
	switch v := value.(type) {
	case []store.Attachment:
		for _, a := range v {
			if a.Token != "" {
				out = append(out, a)
			}
		}
	case []map[string]any:
		for _, m := range v {
			if a, ok := attachmentFromMap(m); ok {
				out = append(out, a)
			}
		}
	case []any:
		for _, item := range v {
			switch it := item.(type) {
			case store.Attachment:
				if it.Token != "" {
					out = append(out, it)
				}
			case map[string]any:
				if a, ok := attachmentFromMap(it); ok {
					out = append(out, a)
				}
			}
		}
	}
	return out
}

func attachmentFromMap(m map[string]any) (store.Attachment, bool) {
	token, _ := m["token"].(string)
	if token == "" {
		return store.Attachment{}, false
	}
	a := store.Attachment{Token: token}
	a.Name, _ = m["name"].(string)
	a.Type, _ = m["type"].(string)
	a.Size = toInt64(m["size"])
	a.TimeStamp = toInt64(m["timeStamp"])
	return a, true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int64(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func containsToken(list []store.Attachment, token string) bool {
	for _, a := range list {
		if a.Token == token {
			return true
		}
	}
	return false
}
