package resolver

// DefaultOverwriteKey is the section ApplyOverwriteSection folds into its parent.
const DefaultOverwriteKey = "overwrite_from_context"

// ApplyOverwrites deep-merges overwrite into a copy of base. When both
// sides hold a mapping under the same key the mappings are merged;
// otherwise the overwrite value replaces the base value, including nil
// values and whole sequences. Neither input is modified.
func ApplyOverwrites(base, overwrite map[string]interface{}) map[string]interface{} {
	result := deepCopyMap(base)
	if result == nil {
		result = make(map[string]interface{}, len(overwrite))
	}

	for key, value := range overwrite {
		existing, ok := result[key].(map[string]interface{})
		incoming, isMap := value.(map[string]interface{})
		if ok && isMap {
			result[key] = ApplyOverwrites(existing, incoming)
			continue
		}
		result[key] = DeepCopy(value)
	}
	return result
}

// ApplyOverwriteSection folds every mapping-valued key section into the
// mapping that contains it and removes the key. Nested mappings are
// processed bottom-up. The input is not modified.
//
//	{"headers": {"x": "a", "overwrite_from_context": {"x": "b"}}}
//	=> {"headers": {"x": "b"}}
func ApplyOverwriteSection(tree map[string]interface{}, key string) map[string]interface{} {
	if key == "" {
		key = DefaultOverwriteKey
	}
	out, _ := applySection(tree, key).(map[string]interface{})
	return out
}

func applySection(node interface{}, key string) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		out := make(map[string]interface{}, len(v))
		var section map[string]interface{}
		for k, child := range v {
			if k == key {
				if m, ok := child.(map[string]interface{}); ok {
					section, _ = applySection(m, key).(map[string]interface{})
					continue
				}
			}
			out[k] = applySection(child, key)
		}
		if section != nil {
			out = ApplyOverwrites(out, section)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = applySection(child, key)
		}
		return out
	default:
		return DeepCopy(v)
	}
}

// StripOverwriteSections returns a copy of tree with every key section
// removed, leaving the values they would overwrite in place. A STARTUP pass
// resolves this view so request-only placeholders inside the sections are
// not evaluated early.
func StripOverwriteSections(tree map[string]interface{}, key string) map[string]interface{} {
	if key == "" {
		key = DefaultOverwriteKey
	}
	out, _ := stripSection(tree, key).(map[string]interface{})
	return out
}

func stripSection(node interface{}, key string) interface{} {
	switch v := node.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			if k == key {
				if _, ok := child.(map[string]interface{}); ok {
					continue
				}
			}
			out[k] = stripSection(child, key)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = stripSection(child, key)
		}
		return out
	default:
		return DeepCopy(v)
	}
}

// DeepCopy returns a copy of v in which every map and slice is fresh.
// Other values are returned as is.
func DeepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		if val == nil {
			return val
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = DeepCopy(item)
		}
		return out
	case map[string]string:
		if val == nil {
			return val
		}
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []string:
		if val == nil {
			return val
		}
		return append([]string(nil), val...)
	default:
		return v
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}
