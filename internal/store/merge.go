package store

// mergePatch applies an RFC 7386 merge patch to a decoded JSON document.
// A null patch member removes the key; object members merge recursively;
// anything else replaces wholesale. A non-object patch replaces the target.
func mergePatch(target, patch any) any {
	patchObj, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	targetObj, ok := target.(map[string]any)
	if !ok {
		targetObj = map[string]any{}
	}
	out := make(map[string]any, len(targetObj)+len(patchObj))
	for k, v := range targetObj {
		out[k] = v
	}
	for k, v := range patchObj {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = mergePatch(out[k], v)
	}
	return out
}
