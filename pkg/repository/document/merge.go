package document

// Merge applies patch on top of base and returns the result without touching
// either input. Embedded documents are merged key by key; arrays and scalars
// in patch replace the base value wholesale.
func Merge(base, patch Document) Document {
	out := Clone(base)
	if out == nil {
		out = Document{}
	}
	for k, pv := range patch {
		pd, patchIsDoc := asDocument(pv)
		bd, baseIsDoc := asDocument(out[k])
		if patchIsDoc && baseIsDoc {
			out[k] = Merge(bd, pd)
			continue
		}
		out[k] = cloneValue(pv)
	}
	return out
}
