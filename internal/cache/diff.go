package cache

import "slices"

// diffKeys compares two keyed states. created holds keys only in next, deleted holds keys
// only in prev, changed holds keys in both for which differs reports true. A nil differs
// means values never change. Each result is sorted.
func diffKeys[T any](prev, next map[string]T, differs func(a, b T) bool) (created, deleted, changed []string) {
	for key, nv := range next {
		pv, ok := prev[key]
		if !ok {
			created = append(created, key)
			continue
		}
		if differs != nil && differs(pv, nv) {
			changed = append(changed, key)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			deleted = append(deleted, key)
		}
	}

	slices.Sort(created)
	slices.Sort(deleted)
	slices.Sort(changed)
	return created, deleted, changed
}

func fingerprintDiffers(a, b FileRecord) bool {
	return a.Fingerprint != b.Fingerprint
}
