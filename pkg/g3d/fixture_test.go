package g3d

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vim-g3d/pkg/bfast"
)

var (
	red    = [ColorSize]float32{1, 0, 0, 1}
	blue   = [ColorSize]float32{0, 0, 1, 0.5}
	green  = [ColorSize]float32{0, 1, 0, 1}
	yellow = [ColorSize]float32{1, 1, 0, 1}
)

// testArrays is a three-mesh scene with five instances:
//
//	mesh 0: vertices 0-5, a blue (transparent) submesh stored before a red one
//	mesh 1: vertices 6-8, green
//	mesh 2: vertices 9-11, no material
//
// Instance 1 has no mesh and material 3 is unused.
func testArrays() Arrays {
	positions := make([]float32, 0, 12*PositionSize)
	for v := range 12 {
		positions = append(positions, float32(v), float32(v)+0.5, -float32(v))
	}
	transforms := make([]float32, 0, 5*MatrixSize)
	for i := range 5 {
		transforms = append(transforms, translation(float32(10*i), 0, 0)...)
	}
	var colors []float32
	for _, c := range [][ColorSize]float32{red, blue, green, yellow} {
		colors = append(colors, c[:]...)
	}
	return Arrays{
		InstanceMeshes:      []int32{0, -1, 1, 0, 2},
		InstanceFlags:       []uint16{0, 1, 0, 2, 0},
		InstanceTransforms:  transforms,
		MeshSubmeshes:       []int32{0, 2, 3},
		SubmeshIndexOffsets: []int32{0, 3, 6, 9},
		SubmeshMaterials:    []int32{1, 0, 2, -1},
		Indices:             []uint32{3, 4, 5, 0, 1, 2, 6, 7, 8, 9, 10, 11},
		Positions:           positions,
		MaterialColors:      colors,
	}
}

func translation(x, y, z float32) []float32 {
	return []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		x, y, z, 1,
	}
}

func testGeometry(t *testing.T) *Geometry {
	t.Helper()
	g, err := New(testArrays())
	require.NoError(t, err)
	return g
}

// encode writes the arrays as stored, without sorting or rebasing.
func encode(t *testing.T, a Arrays, extra ...*Attribute) []byte {
	t.Helper()
	raw := &AbstractGeometry{
		Meta: "g3d",
		Attributes: []*Attribute{
			AttributeOf(InstanceMeshes, a.InstanceMeshes),
			AttributeOf(InstanceFlags, a.InstanceFlags),
			AttributeOf(InstanceTransforms, a.InstanceTransforms),
			AttributeOf(MeshSubmeshes, a.MeshSubmeshes),
			AttributeOf(SubmeshIndexOffsets, a.SubmeshIndexOffsets),
			AttributeOf(SubmeshMaterials, a.SubmeshMaterials),
			AttributeOf(Indices, a.Indices),
			AttributeOf(Positions, a.Positions),
			AttributeOf(MaterialColors, a.MaterialColors),
		},
	}
	raw.Attributes = append(raw.Attributes, extra...)
	data, err := raw.Marshal()
	require.NoError(t, err)
	return data
}

func container(t *testing.T, raw *AbstractGeometry) *bfast.BFast {
	t.Helper()
	data, err := raw.Marshal()
	require.NoError(t, err)
	return bfast.New(data)
}

func allInstances(g *Geometry) []int {
	ids := make([]int, g.InstanceCount())
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func bfastOf(data []byte) *bfast.BFast {
	return bfast.New(data)
}
