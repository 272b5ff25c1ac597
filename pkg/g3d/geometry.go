package g3d

import (
	"context"
	"slices"
)

// Arrays holds the nine parallel buffers of a geometry.
type Arrays struct {
	InstanceMeshes      []int32
	InstanceFlags       []uint16
	InstanceTransforms  []float32
	MeshSubmeshes       []int32
	SubmeshIndexOffsets []int32
	SubmeshMaterials    []int32
	Indices             []uint32
	Positions           []float32
	MaterialColors      []float32
}

// Geometry is a validated scene geometry.
//
// Construction rebases indices to be mesh-relative and sorts each mesh's
// submeshes so opaque ones come first. Consumers must treat the buffers as
// read-only; transforms return new values.
type Geometry struct {
	Arrays

	// Raw is the attribute set the geometry was decoded from, if any.
	Raw *AbstractGeometry

	meshVertexOffsets     []int32
	meshVertexEnds        []int32
	meshInstances         [][]int
	meshOpaqueCount       []int
	meshOpaqueVertexCount []int
}

// New validates the buffers and builds a Geometry.
// Indices, submesh offsets and submesh materials are copied before they are
// rebased and sorted; the other buffers are retained as given.
func New(a Arrays) (*Geometry, error) {
	a.Indices = slices.Clone(a.Indices)
	a.SubmeshIndexOffsets = slices.Clone(a.SubmeshIndexOffsets)
	a.SubmeshMaterials = slices.Clone(a.SubmeshMaterials)
	if a.InstanceFlags == nil {
		a.InstanceFlags = make([]uint16, len(a.InstanceMeshes))
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	g := &Geometry{Arrays: a}
	g.computeMeshVertexRanges()
	g.rebaseIndices()
	g.meshInstances = g.computeMeshInstances()
	g.sortSubmeshes()
	g.computeMeshOpaqueCounts()
	return g, nil
}

// FromAbstract builds a Geometry from a decoded attribute set.
// Absent buffers are treated as empty.
func FromAbstract(raw *AbstractGeometry) (*Geometry, error) {
	a := Arrays{
		InstanceMeshes:      typed[int32](raw, InstanceMeshes),
		InstanceTransforms:  typed[float32](raw, InstanceTransforms),
		MeshSubmeshes:       typed[int32](raw, MeshSubmeshes),
		SubmeshIndexOffsets: typed[int32](raw, SubmeshIndexOffsets),
		SubmeshMaterials:    typed[int32](raw, SubmeshMaterials),
		Positions:           typed[float32](raw, Positions),
		MaterialColors:      typed[float32](raw, MaterialColors),
	}
	if flags := raw.Find(MustParseDescriptor(InstanceFlags)); flags != nil {
		a.InstanceFlags, _ = Values[uint16](flags)
	}
	if indices := raw.Find(MustParseDescriptor(Indices)); indices != nil {
		a.Indices = cast[uint32](indices.Bytes)
	}

	g, err := New(a)
	if err != nil {
		return nil, err
	}
	g.Raw = raw
	return g, nil
}

// Load reads the geometry buffers from src and builds a Geometry.
func Load(ctx context.Context, src Source) (*Geometry, error) {
	raw, err := LoadAbstract(ctx, src, GeometryAttributes)
	if err != nil {
		return nil, err
	}
	return FromAbstract(raw)
}

// Attributes returns the geometry's buffers as an attribute set, suitable
// for writing to a container.
func (g *Geometry) Attributes() *AbstractGeometry {
	return &AbstractGeometry{
		Meta: "g3d",
		Attributes: []*Attribute{
			AttributeOf(InstanceMeshes, g.InstanceMeshes),
			AttributeOf(InstanceTransforms, g.InstanceTransforms),
			AttributeOf(InstanceFlags, g.InstanceFlags),
			AttributeOf(MeshSubmeshes, g.MeshSubmeshes),
			AttributeOf(SubmeshIndexOffsets, g.SubmeshIndexOffsets),
			AttributeOf(SubmeshMaterials, g.SubmeshMaterials),
			AttributeOf(Indices, g.absoluteIndices(0)),
			AttributeOf(Positions, g.Positions),
			AttributeOf(MaterialColors, g.MaterialColors),
		},
	}
}

func typed[T Scalar](raw *AbstractGeometry, name string) []T {
	v, _ := Values[T](raw.Find(MustParseDescriptor(name)))
	return v
}

// computeMeshVertexRanges records, per mesh, the lowest and one past the
// highest vertex referenced by its indices.
func (g *Geometry) computeMeshVertexRanges() {
	count := g.MeshCount()
	g.meshVertexOffsets = make([]int32, count)
	g.meshVertexEnds = make([]int32, count)
	for m := 0; m < count; m++ {
		lo, hi := vertexBounds(g.MeshIndices(m, SectionAll))
		g.meshVertexOffsets[m] = int32(lo)
		g.meshVertexEnds[m] = int32(hi)
	}
}

// rebaseIndices makes indices relative to their own mesh.
func (g *Geometry) rebaseIndices() {
	for m := range g.MeshCount() {
		rebase(g.MeshIndices(m, SectionAll), uint32(g.meshVertexOffsets[m]))
	}
}

// absoluteIndices undoes the rebase, shifted by base.
func (g *Geometry) absoluteIndices(base uint32) []uint32 {
	out := make([]uint32, len(g.Indices))
	copy(out, g.Indices)
	for m := range g.MeshCount() {
		offset := uint32(g.meshVertexOffsets[m])
		start := g.MeshIndexStart(m, SectionAll)
		end := g.MeshIndexEnd(m, SectionAll)
		for i := start; i < end; i++ {
			out[i] += offset
		}
	}
	if base != 0 {
		for i := range out {
			out[i] += base
		}
	}
	return out
}

func (g *Geometry) computeMeshInstances() [][]int {
	result := make([][]int, g.MeshCount())
	for i, mesh := range g.InstanceMeshes {
		if mesh < 0 {
			continue
		}
		result[mesh] = append(result[mesh], i)
	}
	return result
}

// computeMeshOpaqueCounts counts the leading opaque submeshes of each mesh
// and the vertices their indices reach.
func (g *Geometry) computeMeshOpaqueCounts() {
	count := g.MeshCount()
	g.meshOpaqueCount = make([]int, count)
	g.meshOpaqueVertexCount = make([]int, count)
	for m := 0; m < count; m++ {
		subStart := g.MeshSubmeshStart(m, SectionAll)
		subEnd := g.MeshSubmeshEnd(m, SectionAll)
		n := 0
		for s := subStart; s < subEnd && !g.SubmeshIsTransparent(s); s++ {
			n++
		}
		g.meshOpaqueCount[m] = n
		if n == 0 {
			continue
		}

		vertices := 0
		for _, v := range g.Indices[g.MeshIndexStart(m, SectionOpaque):g.MeshIndexEnd(m, SectionOpaque)] {
			vertices = max(vertices, int(v)+1)
		}
		g.meshOpaqueVertexCount[m] = vertices
	}
}
