package g3d

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshFile(t *testing.T) {
	g := testGeometry(t)
	m := g.MeshFile(0)

	assert.Equal(t, []int32{0, 3}, m.InstanceNodes)
	assert.Equal(t, []uint16{0, 2}, m.InstanceFlags)
	assert.Equal(t, 2, m.InstanceCount())
	assert.Equal(t, []int32{0, 3}, m.SubmeshIndexOffsets)
	assert.Equal(t, []int32{0, 1}, m.SubmeshMaterials)
	assert.Equal(t, 2, m.MaterialCount())
	assert.Equal(t, 1, m.OpaqueSubmeshCount)
	assert.True(t, m.HasTransparency())

	tests := []struct {
		section                  Section
		subStart, subEnd         int
		indexStart, indexCount   int
		vertexStart, vertexCount int
	}{
		{SectionAll, 0, 2, 0, 6, 0, 6},
		{SectionOpaque, 0, 1, 0, 3, 0, 3},
		{SectionTransparent, 1, 2, 3, 3, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.section.String(), func(t *testing.T) {
			assert.Equal(t, tt.subStart, m.SubmeshStart(tt.section))
			assert.Equal(t, tt.subEnd, m.SubmeshEnd(tt.section))
			assert.Equal(t, tt.indexStart, m.IndexStart(tt.section))
			assert.Equal(t, tt.indexCount, m.IndexCount(tt.section))
			assert.Equal(t, tt.vertexStart, m.VertexStart(tt.section))
			assert.Equal(t, tt.vertexCount, m.VertexCount(tt.section))
		})
	}

	other := g.MeshFile(1)
	assert.False(t, other.HasTransparency())
	assert.Equal(t, green[:], other.MaterialColors)
	assert.Equal(t, []int32{2}, other.InstanceNodes)
}

func TestMeshFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := testGeometry(t)

	for mesh := range g.MeshCount() {
		want := g.MeshFile(mesh)
		got, err := LoadMeshFile(ctx, container(t, want.Attributes()))
		require.NoError(t, err)

		assert.Equal(t, want.InstanceNodes, got.InstanceNodes)
		assert.Equal(t, want.Indices, got.Indices)
		assert.Equal(t, want.Positions, got.Positions)
		assert.Equal(t, want.OpaqueSubmeshCount, got.OpaqueSubmeshCount)

		geometry, err := got.Geometry()
		require.NoError(t, err)
		for k, node := range got.InstanceNodes {
			assert.True(t, InstanceEqual(geometry, k, g, int(node)), "mesh %d instance %d", mesh, k)
		}
	}
}

func TestMeshFileDerivesOpaqueCount(t *testing.T) {
	g := testGeometry(t)
	m := g.MeshFile(0)

	raw := m.Attributes()
	raw.Attributes = raw.Attributes[:len(raw.Attributes)-1]
	decoded := MeshFileFromAbstract(raw)
	assert.Equal(t, 1, decoded.OpaqueSubmeshCount)

	raw = &AbstractGeometry{Attributes: []*Attribute{
		AttributeOf(InstanceTransforms, translation(0, 0, 0)),
		AttributeOf(SubmeshIndexOffsets, []int32{0}),
		AttributeOf(SubmeshMaterials, []int32{0}),
		AttributeOf(Indices, []uint32{0, 1, 2}),
		AttributeOf(Positions, make([]float32, 9)),
		AttributeOf(MaterialColors, blue[:]),
	}}
	decoded = MeshFileFromAbstract(raw)
	assert.Equal(t, 0, decoded.OpaqueSubmeshCount)
	assert.Equal(t, []uint16{0}, decoded.InstanceFlags)
	assert.Equal(t, 3, decoded.VertexCount(SectionTransparent))
}

func TestMeshIndex(t *testing.T) {
	g := testGeometry(t)
	x := g.MeshIndex()

	assert.Equal(t, []int32{0, -1, 1, 0, 2}, x.InstanceFiles)
	assert.Equal(t, []int32{0, 0, 0, 1, 0}, x.InstanceIndices)
	assert.Equal(t, []int32{2, 1, 1}, x.InstanceCounts)
	assert.Equal(t, []int32{2, 1, 1}, x.SubmeshCounts)
	assert.Equal(t, []int32{6, 3, 3}, x.IndexCounts)
	assert.Equal(t, []int32{6, 3, 3}, x.VertexCounts)
	assert.Equal(t, []int32{2, 1, 0}, x.MaterialCounts)
	assert.Equal(t, []int32{1, 1, 1}, x.OpaqueSubmeshCounts)
	assert.Equal(t, []int32{3, 3, 3}, x.OpaqueIndexCounts)
	assert.Equal(t, []int32{3, 3, 3}, x.OpaqueVertexCounts)

	assert.Equal(t, 3, x.MeshCount())
	assert.Equal(t, 5, x.InstanceCount())
	assert.Equal(t, 1, x.SubmeshCount(0, SectionTransparent))
	assert.Equal(t, 3, x.IndexCount(0, SectionOpaque))
	assert.Equal(t, 0, x.VertexCount(1, SectionTransparent))
	assert.Equal(t, "scene_mesh_2.g3d", MeshFileName("scene", 2))
}

func TestMeshIndexRoundTrip(t *testing.T) {
	g := testGeometry(t)
	want := g.MeshIndex()

	got, err := LoadMeshIndex(context.Background(), container(t, want.Attributes()))
	require.NoError(t, err)
	assert.Equal(t, want.InstanceFiles, got.InstanceFiles)
	assert.Equal(t, want.InstanceIndices, got.InstanceIndices)
	assert.Equal(t, want.InstanceCounts, got.InstanceCounts)
	assert.Equal(t, want.VertexCounts, got.VertexCounts)
	assert.Equal(t, want.OpaqueVertexCounts, got.OpaqueVertexCounts)
}

func TestMeshIndexWithoutOpaqueCounts(t *testing.T) {
	x := testGeometry(t).MeshIndex()
	x.OpaqueSubmeshCounts = nil
	x.OpaqueIndexCounts = nil
	x.OpaqueVertexCounts = nil

	assert.Equal(t, 2, x.SubmeshCount(0, SectionOpaque))
	assert.Equal(t, 0, x.SubmeshCount(0, SectionTransparent))
	assert.Equal(t, 6, x.VertexCount(0, SectionOpaque))
}

func TestMeshIndexValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(x *MeshIndex)
	}{
		{"short counts", func(x *MeshIndex) { x.VertexCounts = x.VertexCounts[:2] }},
		{"short opaque counts", func(x *MeshIndex) { x.OpaqueIndexCounts = x.OpaqueIndexCounts[:1] }},
		{"instance buffers differ", func(x *MeshIndex) { x.InstanceIndices = x.InstanceIndices[:4] }},
		{"file out of range", func(x *MeshIndex) { x.InstanceFiles[2] = 3 }},
		{"instance outside file", func(x *MeshIndex) { x.InstanceIndices[3] = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := testGeometry(t).MeshIndex()
			tt.mutate(x)
			_, err := MeshIndexFromAbstract(x.Attributes())
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestMeshSubset(t *testing.T) {
	x := testGeometry(t).MeshIndex()

	all, err := x.Subset(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, all.MeshCount())
	assert.Equal(t, 2, all.MeshInstanceCount(0))
	assert.Equal(t, 1, all.MeshInstance(0, 1))
	assert.Nil(t, all.MeshInstances(0))
	assert.Same(t, x, all.Index())

	unique := all.FilterUniqueMeshes()
	assert.Equal(t, []int{1, 2}, []int{unique.Mesh(0), unique.Mesh(1)})
	shared := all.FilterNonUniqueMeshes()
	require.Equal(t, 1, shared.MeshCount())
	assert.Equal(t, 0, shared.Mesh(0))

	picked, err := x.SubsetFromInstances([]int{4, 1, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 2, picked.MeshCount())
	assert.Equal(t, 0, picked.Mesh(0))
	assert.Equal(t, 2, picked.Mesh(1))
	assert.Equal(t, []int{1}, picked.MeshInstances(0))
	assert.Equal(t, 1, picked.MeshInstance(0, 0))
	assert.Equal(t, 2, picked.FilterUniqueMeshes().MeshCount())
	assert.Equal(t, 0, picked.FilterNonUniqueMeshes().MeshCount())

	_, err = x.Subset([]int{0, 3})
	assert.Error(t, err)
	_, err = x.SubsetFromInstances([]int{5})
	assert.Error(t, err)
}

func TestSubsetCounts(t *testing.T) {
	x := testGeometry(t).MeshIndex()
	all, err := x.Subset(nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts OffsetOptions
		want Counts
	}{
		{"all", OffsetOptions{}, Counts{Instances: 4, Meshes: 3, Submeshes: 4, Indices: 12, Vertices: 12, Materials: 3}},
		{"merged", OffsetOptions{Merge: true}, Counts{Instances: 4, Meshes: 4, Submeshes: 6, Indices: 18, Vertices: 18, Materials: 3}},
		{"opaque", OffsetOptions{Section: SectionOpaque}, Counts{Instances: 4, Meshes: 3, Submeshes: 3, Indices: 9, Vertices: 9, Materials: 3}},
		{"transparent", OffsetOptions{Section: SectionTransparent}, Counts{Instances: 2, Meshes: 1, Submeshes: 1, Indices: 3, Vertices: 3, Materials: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, all.Counts(tt.opts))
		})
	}
}

func TestComputeOffsets(t *testing.T) {
	x := testGeometry(t).MeshIndex()
	all, err := x.Subset(nil)
	require.NoError(t, err)

	o := ComputeOffsets(all, OffsetOptions{})
	assert.Equal(t, 3, o.MeshCount())
	assert.Equal(t, BuilderCursor{}, o.Cursor(0))
	assert.Equal(t, BuilderCursor{Instance: 2, Mesh: 1, Submesh: 2, Index: 6, Vertex: 6, Material: 2}, o.Cursor(1))
	assert.Equal(t, BuilderCursor{Instance: 3, Mesh: 2, Submesh: 3, Index: 9, Vertex: 9, Material: 3}, o.Cursor(2))
	assert.Equal(t, Counts{Instances: 4, Meshes: 3, Submeshes: 4, Indices: 12, Vertices: 12, Materials: 3}, o.Totals)
	assert.Equal(t, o.Cursor(2), o.Cursor(1).Move(o.Counts(1)))
}

func meshFiles(g *Geometry) MeshFetcher {
	files := make([]*MeshFile, g.MeshCount())
	for m := range files {
		files[m] = g.MeshFile(m)
	}
	return func(_ context.Context, mesh int) (*MeshFile, error) {
		return files[mesh], nil
	}
}

func TestBuilderRebuildsScene(t *testing.T) {
	ctx := context.Background()
	g := testGeometry(t)
	all, err := g.MeshIndex().Subset(nil)
	require.NoError(t, err)

	b := NewBuilder(ComputeOffsets(all, OffsetOptions{}))
	b.SetLimit(2)
	require.NoError(t, b.Build(ctx, meshFiles(g)))
	assert.Equal(t, 3, b.Ready())

	built, err := b.Geometry(all.MeshCount())
	require.NoError(t, err)
	nodes := b.InstanceNodes()
	assert.Equal(t, []int32{0, 3, 2, 4}, nodes)
	for j, node := range nodes {
		assert.True(t, InstanceEqual(built, j, g, int(node)), "built instance %d", j)
	}
}

func TestBuilderFromInstances(t *testing.T) {
	ctx := context.Background()
	g := testGeometry(t)
	picked, err := g.MeshIndex().SubsetFromInstances([]int{3, 4})
	require.NoError(t, err)

	b := NewBuilder(ComputeOffsets(picked, OffsetOptions{}))
	require.NoError(t, b.Build(ctx, meshFiles(g)))
	built, err := b.Geometry(picked.MeshCount())
	require.NoError(t, err)

	filtered, err := g.Filter([]int{3, 4})
	require.NoError(t, err)
	assert.True(t, Equal(filtered, built))
	assert.Equal(t, []int32{3, 4}, b.InstanceNodes())
}

func TestBuilderStreaming(t *testing.T) {
	g := testGeometry(t)
	all, err := g.MeshIndex().Subset(nil)
	require.NoError(t, err)
	b := NewBuilder(ComputeOffsets(all, OffsetOptions{}))

	require.NoError(t, b.Insert(2, g.MeshFile(2)))
	assert.True(t, b.Completed(2))
	assert.False(t, b.Completed(0))
	assert.Equal(t, 0, b.Ready())
	_, err = b.Geometry(1)
	assert.Error(t, err)

	require.NoError(t, b.Insert(0, g.MeshFile(0)))
	assert.Equal(t, 1, b.Ready())
	partial, err := b.Geometry(1)
	require.NoError(t, err)
	assert.Equal(t, 2, partial.InstanceCount())
	assert.True(t, InstanceEqual(partial, 1, g, 3))

	require.NoError(t, b.Insert(1, g.MeshFile(1)))
	assert.Equal(t, 3, b.Ready())
}

func TestBuilderMerge(t *testing.T) {
	ctx := context.Background()
	g := testGeometry(t)
	all, err := g.MeshIndex().Subset(nil)
	require.NoError(t, err)

	b := NewBuilder(ComputeOffsets(all, OffsetOptions{Merge: true}))
	require.NoError(t, b.Build(ctx, meshFiles(g)))
	built, err := b.Geometry(all.MeshCount())
	require.NoError(t, err)

	assert.Equal(t, 4, built.MeshCount())
	for j, node := range b.InstanceNodes() {
		assert.Equal(t, translation(0, 0, 0), built.InstanceMatrix(j))
		assert.Equal(t, j, built.InstanceMesh(j))

		want := g.MeshPositions(g.InstanceMesh(int(node)), SectionAll)
		got := built.MeshPositions(j, SectionAll)
		require.Len(t, got, len(want))
		for v := 0; v < len(want); v += PositionSize {
			assert.InDelta(t, want[v]+float32(10*node), got[v], 1e-5)
			assert.InDelta(t, want[v+1], got[v+1], 1e-5)
			assert.InDelta(t, want[v+2], got[v+2], 1e-5)
		}
	}
}

func TestBuilderSections(t *testing.T) {
	ctx := context.Background()
	g := testGeometry(t)
	all, err := g.MeshIndex().Subset(nil)
	require.NoError(t, err)

	b := NewBuilder(ComputeOffsets(all, OffsetOptions{Section: SectionTransparent}))
	require.NoError(t, b.Build(ctx, meshFiles(g)))
	built, err := b.Geometry(all.MeshCount())
	require.NoError(t, err)
	assert.Equal(t, 2, built.InstanceCount())
	assert.Equal(t, 1, built.SubmeshCount())
	assert.Equal(t, blue, built.SubmeshColor(0))
	assert.Equal(t, g.MeshPositions(0, SectionTransparent), built.MeshPositions(0, SectionAll))

	b = NewBuilder(ComputeOffsets(all, OffsetOptions{Section: SectionOpaque}))
	require.NoError(t, b.Build(ctx, meshFiles(g)))
	built, err = b.Geometry(all.MeshCount())
	require.NoError(t, err)
	assert.Equal(t, 4, built.InstanceCount())
	for m := range built.MeshCount() {
		assert.False(t, built.MeshHasTransparency(m))
	}
}

// sharedVertexGeometry has an opaque and a transparent submesh sharing
// vertices 0 and 2. Vertex v sits at (v, 0, 0).
func sharedVertexGeometry(t *testing.T) *Geometry {
	t.Helper()
	positions := make([]float32, 0, 4*PositionSize)
	for v := range 4 {
		positions = append(positions, float32(v), 0, 0)
	}
	g, err := New(Arrays{
		InstanceMeshes:      []int32{0},
		InstanceTransforms:  translation(0, 0, 0),
		MeshSubmeshes:       []int32{0},
		SubmeshIndexOffsets: []int32{0, 3},
		SubmeshMaterials:    []int32{0, 1},
		Indices:             []uint32{0, 1, 2, 0, 2, 3},
		Positions:           positions,
		MaterialColors:      append(red[:], blue[:]...),
	})
	require.NoError(t, err)
	return g
}

func TestMeshFilePartitionsSharedVertices(t *testing.T) {
	g := sharedVertexGeometry(t)

	m := g.MeshFile(0)
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, m.Indices)
	assert.Equal(t, []float32{
		0, 0, 0, 1, 0, 0, 2, 0, 0,
		0, 0, 0, 2, 0, 0, 3, 0, 0,
	}, m.Positions)
	assert.Equal(t, 3, m.VertexCount(SectionOpaque))
	assert.Equal(t, 3, m.VertexCount(SectionTransparent))

	x := g.MeshIndex()
	assert.Equal(t, []int32{6}, x.VertexCounts)
	assert.Equal(t, []int32{3}, x.OpaqueVertexCounts)

	all, err := x.Subset(nil)
	require.NoError(t, err)
	for _, section := range []Section{SectionAll, SectionOpaque, SectionTransparent} {
		t.Run(section.String(), func(t *testing.T) {
			b := NewBuilder(ComputeOffsets(all, OffsetOptions{Section: section}))
			require.NoError(t, b.Build(context.Background(), meshFiles(g)))
			built, err := b.Geometry(all.MeshCount())
			require.NoError(t, err)
			assert.Equal(t, g.MeshSubmeshCount(0, section), built.SubmeshCount())
		})
	}

	b := NewBuilder(ComputeOffsets(all, OffsetOptions{Section: SectionTransparent}))
	require.NoError(t, b.Build(context.Background(), meshFiles(g)))
	built, err := b.Geometry(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 2, 0, 0, 3, 0, 0}, built.Positions)
}

func TestPartitionVertices(t *testing.T) {
	tests := []struct {
		name      string
		indices   []uint32
		opaqueEnd int
		out       []uint32
		sources   []uint32
		opaque    int
	}{
		{"empty", nil, 0, []uint32{}, nil, 0},
		{"opaque only", []uint32{2, 0, 1}, 3, []uint32{0, 1, 2}, []uint32{2, 0, 1}, 3},
		{"transparent only", []uint32{1, 2, 1}, 0, []uint32{0, 1, 0}, []uint32{1, 2}, 0},
		{"shared", []uint32{0, 1, 2, 2, 1, 3}, 3, []uint32{0, 1, 2, 3, 4, 5}, []uint32{0, 1, 2, 2, 1, 3}, 3},
		{"gap dropped", []uint32{0, 4, 5}, 3, []uint32{0, 1, 2}, []uint32{0, 4, 5}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, sources, opaque := partitionVertices(tt.indices, tt.opaqueEnd)
			assert.Equal(t, tt.out, out)
			assert.Equal(t, tt.sources, sources)
			assert.Equal(t, tt.opaque, opaque)
		})
	}
}

func TestBuilderRejectsSharedVertices(t *testing.T) {
	g := sharedVertexGeometry(t)
	x := g.MeshIndex()
	x.VertexCounts[0] = 4
	all, err := x.Subset(nil)
	require.NoError(t, err)

	// A file written without partitioning: the transparent triangle
	// reuses opaque vertices.
	m := g.MeshFile(0)
	m.Indices = []uint32{0, 1, 2, 0, 2, 3}
	m.Positions = g.Positions

	b := NewBuilder(ComputeOffsets(all, OffsetOptions{Section: SectionTransparent}))
	err = b.Insert(0, m)
	assert.ErrorIs(t, err, ErrNotPartitioned)
}

func TestBuilderCountMismatch(t *testing.T) {
	g := testGeometry(t)
	all, err := g.MeshIndex().Subset(nil)
	require.NoError(t, err)
	b := NewBuilder(ComputeOffsets(all, OffsetOptions{}))

	err = b.Insert(0, g.MeshFile(1))
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, b.Completed(0))
}
