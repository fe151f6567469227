package reference

import (
	"testing"

	"github.com/gomlx/packmm/pkg/core/views"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatMul(t *testing.T) {
	a, err := views.RowMajor([]int8{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	b, err := views.RowMajor([]int8{1, 0, 0, 1, 1, -1}, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, -1, 10, -1}, MatMul[int8](a, b))
}

func TestConv(t *testing.T) {
	// 1D, 2 input channels, 1 output channel, kernel 2, padding 1 after.
	input := views.NewTensor([]float32{1, 2, 3, 10, 20, 30}, 1, 2, 3)
	kernel := views.NewTensor([]float32{1, 1, 0, 2}, 1, 2, 2)
	output, dims, err := Conv(input, kernel, views.ConvGeometry{Paddings: [][2]int{{0, 1}}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3}, dims)
	// out[x] = in0[x] + in0[x+1] + 2*in1[x+1].
	assert.Equal(t, []float64{1 + 2 + 40, 2 + 3 + 60, 3 + 0 + 0}, output)
}
