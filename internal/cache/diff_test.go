package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffKeysPartition(t *testing.T) {
	prev := map[string]FileRecord{
		"/r/same":    {Path: "/r/same", Fingerprint: 1},
		"/r/changed": {Path: "/r/changed", Fingerprint: 2},
		"/r/gone":    {Path: "/r/gone", Fingerprint: 3},
	}
	next := map[string]FileRecord{
		"/r/same":    {Path: "/r/same", Fingerprint: 1},
		"/r/changed": {Path: "/r/changed", Fingerprint: 20},
		"/r/new":     {Path: "/r/new", Fingerprint: 4},
	}

	created, deleted, changed := diffKeys(prev, next, fingerprintDiffers)
	assert.Equal(t, []string{"/r/new"}, created)
	assert.Equal(t, []string{"/r/gone"}, deleted)
	assert.Equal(t, []string{"/r/changed"}, changed)

	// every key lands in exactly one bucket, unchanged keys in none
	seen := map[string]int{}
	for _, group := range [][]string{created, deleted, changed} {
		for _, k := range group {
			seen[k]++
		}
	}
	for k := range prev {
		if k != "/r/same" {
			assert.Equal(t, 1, seen[k], k)
		}
	}
	for k := range next {
		if k != "/r/same" {
			assert.Equal(t, 1, seen[k], k)
		}
	}
	assert.Zero(t, seen["/r/same"])
}

func TestDiffKeysDirectoriesHaveNoChanged(t *testing.T) {
	prev := map[string]string{"/r/a": "/r/a", "/r/b": "/r/b"}
	next := map[string]string{"/r/b": "/r/B", "/r/c": "/r/c"}

	created, deleted, changed := diffKeys(prev, next, nil)
	assert.Equal(t, []string{"/r/c"}, created)
	assert.Equal(t, []string{"/r/a"}, deleted)
	assert.Empty(t, changed)
}

func TestDiffKeysEmpty(t *testing.T) {
	created, deleted, changed := diffKeys(map[string]FileRecord{}, nil, fingerprintDiffers)
	assert.Empty(t, created)
	assert.Empty(t, deleted)
	assert.Empty(t, changed)
}
