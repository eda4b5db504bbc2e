package workflow

// deepMerge overlays child onto parent. Maps merge recursively, everything
// else (scalars and arrays) in child replaces the parent value. Neither input
// is modified.
func deepMerge(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, cv := range child {
		pv, ok := out[k]
		if !ok {
			out[k] = cv
			continue
		}
		pm, pok := asMap(pv)
		cm, cok := asMap(cv)
		if pok && cok {
			out[k] = deepMerge(pm, cm)
			continue
		}
		out[k] = cv
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
