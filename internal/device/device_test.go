package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLookup(t *testing.T) {
	d, err := Lookup(" CPU ")
	require.NoError(t, err)
	assert.Equal(t, "cpu", d.Name())

	_, err = Lookup("tpu")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestHostPlaceCopies(t *testing.T) {
	src := mat.NewDense(1, 2, []float64{1, 2})
	dst, err := Host{}.Place(src)
	require.NoError(t, err)
	dst.Set(0, 0, 9)
	assert.Equal(t, 1.0, src.At(0, 0))

	_, err = Host{}.Place(nil)
	assert.Error(t, err)
}
