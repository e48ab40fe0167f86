package entity

import "time"

// Metadata is the open extension map carried by a transaction. It only grows through Merge.
type Metadata map[string]any

const (
	MetadataStatusHistory  = "statusHistory"
	MetadataProviderEvents = "providerEvents"
	MetadataRefunds        = "refunds"
	MetadataDisputes       = "disputes"
)

// IsReservedMetadataKey reports whether key holds evidence the ledger writes itself.
func IsReservedMetadataKey(key string) bool {
	switch key {
	case MetadataStatusHistory, MetadataProviderEvents, MetadataRefunds, MetadataDisputes:
		return true
	}
	return false
}

// Merge folds patch into m key by key. Nested maps merge recursively and lists are
// appended, so evidence recorded earlier is never dropped by a later patch.
func (m Metadata) Merge(patch Metadata) Metadata {
	if m == nil {
		m = Metadata{}
	}
	for key, value := range patch {
		m[key] = mergeValue(m[key], value)
	}
	return m
}

// Append adds entries to the list stored under key.
func (m Metadata) Append(key string, entries ...any) Metadata {
	return m.Merge(Metadata{key: entries})
}

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for key, value := range m {
		out[key] = cloneValue(value)
	}
	return out
}

func (m Metadata) List(key string) []any {
	items, _ := asList(m[key])
	return items
}

func mergeValue(current, patch any) any {
	if current == nil {
		return cloneValue(patch)
	}
	if currentMap, ok := asMap(current); ok {
		if patchMap, ok := asMap(patch); ok {
			return map[string]any(Metadata(currentMap).Merge(patchMap))
		}
	}
	if currentList, ok := asList(current); ok {
		if patchList, ok := asList(patch); ok {
			merged := make([]any, 0, len(currentList)+len(patchList))
			merged = append(merged, currentList...)
			for _, item := range patchList {
				merged = append(merged, cloneValue(item))
			}
			return merged
		}
		// A single entry patched onto a list joins it.
		merged := make([]any, 0, len(currentList)+1)
		merged = append(merged, currentList...)
		return append(merged, cloneValue(patch))
	}
	return cloneValue(patch)
}

func cloneValue(value any) any {
	if m, ok := asMap(value); ok {
		return map[string]any(Metadata(m).Clone())
	}
	if list, ok := asList(value); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = cloneValue(item)
		}
		return out
	}
	return value
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Metadata:
		return v, true
	}
	return nil, false
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

func statusHistoryEntry(from, to Status, at time.Time) map[string]any {
	return map[string]any{
		"from": string(from),
		"to":   string(to),
		"at":   at.UTC().Format(time.RFC3339Nano),
	}
}
