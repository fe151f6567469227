package cpufeatures

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	var empty Set
	avx2fma := Of(AVX2, FMA)
	assert.True(t, avx2fma.Has(AVX2))
	assert.True(t, avx2fma.Has(FMA))
	assert.False(t, avx2fma.Has(AVX512F))
	assert.Equal(t, 2, avx2fma.Len())
	assert.Equal(t, 0, empty.Len())

	assert.True(t, empty.IsSubsetOf(avx2fma))
	assert.True(t, empty.IsSubsetOf(empty))
	assert.True(t, Of(AVX2).IsSubsetOf(avx2fma))
	assert.False(t, avx2fma.IsSubsetOf(Of(AVX2)))
	assert.True(t, avx2fma.IsSubsetOf(avx2fma.With(AVX512F)))

	assert.Equal(t, Of(AVX2, FMA, ASIMD), avx2fma.Union(Of(ASIMD)))
	assert.Equal(t, []string{"avx2", "fma"}, avx2fma.Names())
	assert.Equal(t, "avx2+fma", avx2fma.String())
	assert.Equal(t, "none", empty.String())
}

func TestParseSet(t *testing.T) {
	s, err := ParseSet("AVX2+fma")
	require.NoError(t, err)
	assert.Equal(t, Of(AVX2, FMA), s)

	s, err = ParseSet("neon, dotprod")
	require.NoError(t, err)
	assert.Equal(t, Of(ASIMD, ASIMDDP), s)

	s, err = ParseSet("")
	require.NoError(t, err)
	assert.Equal(t, Set(0), s)
	s, err = ParseSet("none")
	require.NoError(t, err)
	assert.Equal(t, Set(0), s)

	_, err = ParseSet("avx2+mmx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mmx")

	// String output round-trips through ParseSet.
	for f := range numFeatures {
		s := Of(f, SSE41)
		got, err := ParseSet(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got, "feature %s", f)
	}
}

func TestDetect(t *testing.T) {
	// Concurrent first calls converge on one value.
	results := make([]Set, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = Detect()
		}()
	}
	wg.Wait()
	for _, s := range results {
		assert.Equal(t, results[0], s)
	}
	t.Logf("Detected cpu features: %s", results[0])
}
