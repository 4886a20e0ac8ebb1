package blockcache_test

import (
	"testing"

	"github.com/kiln-db/kiln/internal/blockcache"
	"github.com/stretchr/testify/require"
)

func TestGetOrLoadCachesResult(t *testing.T) {
	c := blockcache.New(blockcache.DefaultCapacity)
	calls := 0
	load := func() ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	v1, err := c.GetOrLoad(1, 0, load)
	require.NoError(t, err)
	require.Equal(t, "payload", string(v1))

	v2, err := c.GetOrLoad(1, 0, load)
	require.NoError(t, err)
	require.Equal(t, "payload", string(v2))
	require.Equal(t, 1, calls, "second lookup should hit the cache")
}

func TestDistinctKeysLoadIndependently(t *testing.T) {
	c := blockcache.New(blockcache.DefaultCapacity)
	calls := 0
	load := func(tag byte) func() ([]byte, error) {
		return func() ([]byte, error) {
			calls++
			return []byte{tag}, nil
		}
	}

	a, err := c.GetOrLoad(1, 0, load('a'))
	require.NoError(t, err)
	b, err := c.GetOrLoad(1, 4096, load('b'))
	require.NoError(t, err)

	require.Equal(t, []byte{'a'}, a)
	require.Equal(t, []byte{'b'}, b)
	require.Equal(t, 2, calls)
}

func TestEvictFileRemovesOnlyThatFilesEntries(t *testing.T) {
	c := blockcache.New(blockcache.DefaultCapacity)
	_, err := c.GetOrLoad(1, 0, func() ([]byte, error) { return []byte("one"), nil })
	require.NoError(t, err)
	_, err = c.GetOrLoad(2, 0, func() ([]byte, error) { return []byte("two"), nil })
	require.NoError(t, err)

	c.EvictFile(1)

	calls := 0
	_, err = c.GetOrLoad(1, 0, func() ([]byte, error) { calls++; return []byte("one-reloaded"), nil })
	require.NoError(t, err)
	require.Equal(t, 1, calls, "evicted file's block must be reloaded")

	calls = 0
	_, err = c.GetOrLoad(2, 0, func() ([]byte, error) { calls++; return []byte("two"), nil })
	require.NoError(t, err)
	require.Equal(t, 0, calls, "untouched file's block must remain cached")
}
