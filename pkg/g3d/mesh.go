package g3d

import (
	"context"
	"slices"
)

// MeshFileAttributes lists the buffers of a per-mesh file.
var MeshFileAttributes = []string{
	InstanceNodes,
	InstanceTransforms,
	InstanceFlags,
	SubmeshIndexOffsets,
	SubmeshMaterials,
	Indices,
	Positions,
	MaterialColors,
	MeshOpaqueSubmeshCounts,
}

// MeshFile is the geometry of one mesh together with every instance of it.
// Its submeshes are sorted opaque-first and its indices start at vertex 0.
type MeshFile struct {
	InstanceNodes       []int32
	InstanceTransforms  []float32
	InstanceFlags       []uint16
	SubmeshIndexOffsets []int32
	SubmeshMaterials    []int32
	Indices             []uint32
	Positions           []float32
	MaterialColors      []float32

	// OpaqueSubmeshCount is the number of leading opaque submeshes.
	OpaqueSubmeshCount int

	Raw *AbstractGeometry
}

// MeshFileFromAbstract decodes a mesh file. When the opaque count is not
// stored it is counted from the material alphas.
func MeshFileFromAbstract(raw *AbstractGeometry) *MeshFile {
	m := &MeshFile{
		InstanceNodes:       typed[int32](raw, InstanceNodes),
		InstanceTransforms:  typed[float32](raw, InstanceTransforms),
		InstanceFlags:       typed[uint16](raw, InstanceFlags),
		SubmeshIndexOffsets: typed[int32](raw, SubmeshIndexOffsets),
		SubmeshMaterials:    typed[int32](raw, SubmeshMaterials),
		Positions:           typed[float32](raw, Positions),
		MaterialColors:      typed[float32](raw, MaterialColors),
		OpaqueSubmeshCount:  -1,
		Raw:                 raw,
	}
	if indices := raw.Find(MustParseDescriptor(Indices)); indices != nil {
		m.Indices = cast[uint32](indices.Bytes)
	}
	if counts := typed[int32](raw, MeshOpaqueSubmeshCounts); len(counts) > 0 {
		m.OpaqueSubmeshCount = int(counts[0])
	}
	m.init()
	return m
}

// LoadMeshFile reads a mesh file from src.
func LoadMeshFile(ctx context.Context, src Source) (*MeshFile, error) {
	raw, err := LoadAbstract(ctx, src, MeshFileAttributes)
	if err != nil {
		return nil, err
	}
	return MeshFileFromAbstract(raw), nil
}

func (m *MeshFile) init() {
	if m.InstanceFlags == nil {
		m.InstanceFlags = make([]uint16, m.InstanceCount())
	}
	if m.OpaqueSubmeshCount < 0 {
		n := 0
		for n < m.SubmeshCount() && m.submeshAlpha(n) >= 1 {
			n++
		}
		m.OpaqueSubmeshCount = n
	}
}

// MeshFile cuts mesh out of g with every instance that references it.
func (g *Geometry) MeshFile(mesh int) *MeshFile {
	instances := g.MeshInstances(mesh)
	m := &MeshFile{
		InstanceNodes:      make([]int32, len(instances)),
		InstanceTransforms: make([]float32, 0, len(instances)*MatrixSize),
		InstanceFlags:      make([]uint16, len(instances)),
		OpaqueSubmeshCount: g.MeshSubmeshCount(mesh, SectionOpaque),
	}
	for i, instance := range instances {
		m.InstanceNodes[i] = int32(instance)
		m.InstanceFlags[i] = g.InstanceFlags[instance]
		m.InstanceTransforms = append(m.InstanceTransforms, g.InstanceMatrix(instance)...)
	}

	p := g.meshPart(mesh)
	m.SubmeshIndexOffsets = p.offsets
	m.SubmeshMaterials = slices.Clone(p.materials)
	var sources []uint32
	m.Indices, sources, _ = partitionVertices(p.indices, g.MeshIndexCount(mesh, SectionOpaque))
	m.Positions = make([]float32, 0, len(sources)*PositionSize)
	for _, v := range sources {
		m.Positions = append(m.Positions, p.positions[v*PositionSize:(v+1)*PositionSize]...)
	}
	m.MaterialColors = remapMaterials(m.SubmeshMaterials, g.MaterialColor)
	return m
}

// partitionVertices renumbers the vertices of a mesh in order of first use,
// opaque indices (the first opaqueEnd) before transparent ones. A vertex
// used by both sections is duplicated into the transparent block, so each
// section reaches only its own contiguous vertex range. Unreferenced
// vertices are dropped. sources maps every new vertex to the old one.
func partitionVertices(indices []uint32, opaqueEnd int) (out, sources []uint32, opaque int) {
	out = make([]uint32, len(indices))
	renumber := func(from, to int) {
		seen := make(map[uint32]uint32)
		for i := from; i < to; i++ {
			v := indices[i]
			n, ok := seen[v]
			if !ok {
				n = uint32(len(sources))
				seen[v] = n
				sources = append(sources, v)
			}
			out[i] = n
		}
	}
	renumber(0, opaqueEnd)
	opaque = len(sources)
	renumber(opaqueEnd, len(indices))
	return out, sources, opaque
}

// Attributes returns the mesh file's buffers as an attribute set.
func (m *MeshFile) Attributes() *AbstractGeometry {
	return &AbstractGeometry{
		Meta: "g3d",
		Attributes: []*Attribute{
			AttributeOf(InstanceNodes, m.InstanceNodes),
			AttributeOf(InstanceTransforms, m.InstanceTransforms),
			AttributeOf(InstanceFlags, m.InstanceFlags),
			AttributeOf(SubmeshIndexOffsets, m.SubmeshIndexOffsets),
			AttributeOf(SubmeshMaterials, m.SubmeshMaterials),
			AttributeOf(Indices, m.Indices),
			AttributeOf(Positions, m.Positions),
			AttributeOf(MaterialColors, m.MaterialColors),
			AttributeOf(MeshOpaqueSubmeshCounts, []int32{int32(m.OpaqueSubmeshCount)}),
		},
	}
}

// Geometry returns the mesh file as a geometry with a single mesh and one
// instance per stored instance.
func (m *MeshFile) Geometry() (*Geometry, error) {
	return New(Arrays{
		InstanceMeshes:      make([]int32, m.InstanceCount()),
		InstanceFlags:       m.InstanceFlags,
		InstanceTransforms:  m.InstanceTransforms,
		MeshSubmeshes:       []int32{0},
		SubmeshIndexOffsets: m.SubmeshIndexOffsets,
		SubmeshMaterials:    m.SubmeshMaterials,
		Indices:             m.Indices,
		Positions:           m.Positions,
		MaterialColors:      m.MaterialColors,
	})
}

func (m *MeshFile) InstanceCount() int { return len(m.InstanceTransforms) / MatrixSize }
func (m *MeshFile) SubmeshCount() int  { return len(m.SubmeshIndexOffsets) }
func (m *MeshFile) MaterialCount() int { return len(m.MaterialColors) / ColorSize }

func (m *MeshFile) HasTransparency() bool {
	return m.OpaqueSubmeshCount < m.SubmeshCount()
}

// SubmeshStart returns the first submesh of a section.
func (m *MeshFile) SubmeshStart(section Section) int {
	if section == SectionTransparent {
		return m.OpaqueSubmeshCount
	}
	return 0
}

// SubmeshEnd returns one past the last submesh of a section.
func (m *MeshFile) SubmeshEnd(section Section) int {
	if section == SectionOpaque {
		return m.OpaqueSubmeshCount
	}
	return m.SubmeshCount()
}

func (m *MeshFile) SubmeshIndexStart(submesh int) int {
	if submesh < len(m.SubmeshIndexOffsets) {
		return int(m.SubmeshIndexOffsets[submesh])
	}
	return len(m.Indices)
}

func (m *MeshFile) IndexStart(section Section) int {
	return m.SubmeshIndexStart(m.SubmeshStart(section))
}

func (m *MeshFile) IndexEnd(section Section) int {
	return m.SubmeshIndexStart(m.SubmeshEnd(section))
}

func (m *MeshFile) IndexCount(section Section) int {
	return m.IndexEnd(section) - m.IndexStart(section)
}

// VertexStart returns the first vertex of a section. Opaque vertices are
// the leading ones reached by the opaque indices.
func (m *MeshFile) VertexStart(section Section) int {
	if section == SectionTransparent {
		return m.opaqueVertexCount()
	}
	return 0
}

func (m *MeshFile) VertexEnd(section Section) int {
	if section == SectionOpaque {
		return m.opaqueVertexCount()
	}
	return len(m.Positions) / PositionSize
}

func (m *MeshFile) VertexCount(section Section) int {
	return m.VertexEnd(section) - m.VertexStart(section)
}

func (m *MeshFile) opaqueVertexCount() int {
	_, hi := vertexBounds(m.Indices[:m.IndexEnd(SectionOpaque)])
	return int(hi)
}

func (m *MeshFile) submeshAlpha(submesh int) float32 {
	mat := int(m.SubmeshMaterials[submesh])
	if mat < 0 {
		return 1
	}
	return m.MaterialColors[mat*ColorSize+ColorSize-1]
}
