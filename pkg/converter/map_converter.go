package converter

func MapKeysToSlice[K comparable, T any](m map[K]T) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// DeepCopy copies nested maps and slices so the copy shares no mutable state
// with src. Other values are copied as is.
func DeepCopy(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		return DeepCopy(value)
	case []interface{}:
		copied := make([]interface{}, len(value))
		for i, item := range value {
			copied[i] = deepCopyValue(item)
		}
		return copied
	default:
		return value
	}
}
