package compare

// Jaccard returns |A∩B| / |A∪B|. It abstains, ok is false, when both sets
// are empty.
func Jaccard[K comparable](a, b map[K]struct{}) (v float64, ok bool) {
	if len(a) == 0 && len(b) == 0 {
		return 0, false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	var n int
	for k := range a {
		if _, found := b[k]; found {
			n++
		}
	}
	return float64(n) / float64(len(a)+len(b)-n), true
}
