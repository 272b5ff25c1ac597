package g3d

import (
	"context"
	"fmt"
)

// Mesh index attribute names.
const (
	MeshInstanceCounts      = "g3d:mesh:instancecount:0:int32:1"
	MeshSubmeshCounts       = "g3d:mesh:submeshcount:0:int32:1"
	MeshIndexCounts         = "g3d:mesh:indexcount:0:int32:1"
	MeshVertexCounts        = "g3d:mesh:vertexcount:0:int32:1"
	MeshMaterialCounts      = "g3d:mesh:materialcount:0:int32:1"
	MeshOpaqueIndexCounts   = "g3d:mesh:opaqueindexcount:0:int32:1"
	MeshOpaqueVertexCounts  = "g3d:mesh:opaquevertexcount:0:int32:1"
	InstanceMeshFiles       = "g3d:instance:mesh:0:int32:1"
	InstanceMeshFileIndices = "g3d:instance:meshinstance:0:int32:1"
)

// MeshIndexAttributes lists the buffers of a mesh index.
var MeshIndexAttributes = []string{
	MeshInstanceCounts,
	MeshSubmeshCounts,
	MeshIndexCounts,
	MeshVertexCounts,
	MeshMaterialCounts,
	MeshOpaqueSubmeshCounts,
	MeshOpaqueIndexCounts,
	MeshOpaqueVertexCounts,
	InstanceMeshFiles,
	InstanceMeshFileIndices,
}

// MeshIndex describes a scene split into one file per mesh: per-mesh
// counts, used to preallocate, and where each scene instance lives.
type MeshIndex struct {
	// InstanceFiles maps a scene instance to its mesh file, or -1.
	InstanceFiles []int32
	// InstanceIndices maps a scene instance to its position in the file.
	InstanceIndices []int32

	InstanceCounts []int32
	SubmeshCounts  []int32
	IndexCounts    []int32
	VertexCounts   []int32
	MaterialCounts []int32

	// Opaque partition of each mesh. Absent buffers mean every submesh is
	// opaque.
	OpaqueSubmeshCounts []int32
	OpaqueIndexCounts   []int32
	OpaqueVertexCounts  []int32

	Raw *AbstractGeometry
}

// LoadMeshIndex reads a mesh index from src.
func LoadMeshIndex(ctx context.Context, src Source) (*MeshIndex, error) {
	raw, err := LoadAbstract(ctx, src, MeshIndexAttributes)
	if err != nil {
		return nil, err
	}
	return MeshIndexFromAbstract(raw)
}

// MeshIndexFromAbstract decodes and checks a mesh index.
func MeshIndexFromAbstract(raw *AbstractGeometry) (*MeshIndex, error) {
	x := &MeshIndex{
		InstanceFiles:       typed[int32](raw, InstanceMeshFiles),
		InstanceIndices:     typed[int32](raw, InstanceMeshFileIndices),
		InstanceCounts:      typed[int32](raw, MeshInstanceCounts),
		SubmeshCounts:       typed[int32](raw, MeshSubmeshCounts),
		IndexCounts:         typed[int32](raw, MeshIndexCounts),
		VertexCounts:        typed[int32](raw, MeshVertexCounts),
		MaterialCounts:      typed[int32](raw, MeshMaterialCounts),
		OpaqueSubmeshCounts: typed[int32](raw, MeshOpaqueSubmeshCounts),
		OpaqueIndexCounts:   typed[int32](raw, MeshOpaqueIndexCounts),
		OpaqueVertexCounts:  typed[int32](raw, MeshOpaqueVertexCounts),
		Raw:                 raw,
	}
	if err := x.validate(); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *MeshIndex) validate() error {
	meshes := x.MeshCount()
	perMesh := map[string][]int32{
		"submesh counts":  x.SubmeshCounts,
		"index counts":    x.IndexCounts,
		"vertex counts":   x.VertexCounts,
		"material counts": x.MaterialCounts,
	}
	for name, values := range perMesh {
		if len(values) != meshes {
			return invalid(name, -1, "%d values for %d meshes", len(values), meshes)
		}
	}
	optional := map[string][]int32{
		"opaque submesh counts": x.OpaqueSubmeshCounts,
		"opaque index counts":   x.OpaqueIndexCounts,
		"opaque vertex counts":  x.OpaqueVertexCounts,
	}
	for name, values := range optional {
		if values != nil && len(values) != meshes {
			return invalid(name, -1, "%d values for %d meshes", len(values), meshes)
		}
	}

	if len(x.InstanceIndices) != len(x.InstanceFiles) {
		return invalid("instance mesh indices", -1, "%d values for %d instances", len(x.InstanceIndices), len(x.InstanceFiles))
	}
	for i, f := range x.InstanceFiles {
		if f < -1 || int(f) >= meshes {
			return invalid("instance meshes", i, "%v: mesh %d of %d", ErrMeshRange, f, meshes)
		}
		if f >= 0 && (x.InstanceIndices[i] < 0 || x.InstanceIndices[i] >= x.InstanceCounts[f]) {
			return invalid("instance mesh indices", i, "%d outside mesh %d with %d instances", x.InstanceIndices[i], f, x.InstanceCounts[f])
		}
	}
	return nil
}

// MeshIndex describes g split into one MeshFile per mesh. Vertex counts
// are those of the partitioned vertex blocks written by MeshFile.
func (g *Geometry) MeshIndex() *MeshIndex {
	meshes := g.MeshCount()
	x := &MeshIndex{
		InstanceFiles:       make([]int32, g.InstanceCount()),
		InstanceIndices:     make([]int32, g.InstanceCount()),
		InstanceCounts:      make([]int32, meshes),
		SubmeshCounts:       make([]int32, meshes),
		IndexCounts:         make([]int32, meshes),
		VertexCounts:        make([]int32, meshes),
		MaterialCounts:      make([]int32, meshes),
		OpaqueSubmeshCounts: make([]int32, meshes),
		OpaqueIndexCounts:   make([]int32, meshes),
		OpaqueVertexCounts:  make([]int32, meshes),
	}
	for i := range x.InstanceFiles {
		x.InstanceFiles[i] = -1
	}
	for m := range meshes {
		for k, instance := range g.MeshInstances(m) {
			x.InstanceFiles[instance] = int32(m)
			x.InstanceIndices[instance] = int32(k)
		}
		x.InstanceCounts[m] = int32(g.MeshInstanceCount(m))
		x.SubmeshCounts[m] = int32(g.MeshSubmeshCount(m, SectionAll))
		x.IndexCounts[m] = int32(g.MeshIndexCount(m, SectionAll))
		_, sources, opaque := partitionVertices(g.MeshIndices(m, SectionAll), g.MeshIndexCount(m, SectionOpaque))
		x.VertexCounts[m] = int32(len(sources))
		x.MaterialCounts[m] = int32(len(usedMaterials(g.SubmeshMaterials[g.MeshSubmeshStart(m, SectionAll):g.MeshSubmeshEnd(m, SectionAll)])))
		x.OpaqueSubmeshCounts[m] = int32(g.MeshSubmeshCount(m, SectionOpaque))
		x.OpaqueIndexCounts[m] = int32(g.MeshIndexCount(m, SectionOpaque))
		x.OpaqueVertexCounts[m] = int32(opaque)
	}
	return x
}

// Attributes returns the index buffers as an attribute set.
func (x *MeshIndex) Attributes() *AbstractGeometry {
	return &AbstractGeometry{
		Meta: "g3d",
		Attributes: []*Attribute{
			AttributeOf(MeshInstanceCounts, x.InstanceCounts),
			AttributeOf(MeshSubmeshCounts, x.SubmeshCounts),
			AttributeOf(MeshIndexCounts, x.IndexCounts),
			AttributeOf(MeshVertexCounts, x.VertexCounts),
			AttributeOf(MeshMaterialCounts, x.MaterialCounts),
			AttributeOf(MeshOpaqueSubmeshCounts, x.OpaqueSubmeshCounts),
			AttributeOf(MeshOpaqueIndexCounts, x.OpaqueIndexCounts),
			AttributeOf(MeshOpaqueVertexCounts, x.OpaqueVertexCounts),
			AttributeOf(InstanceMeshFiles, x.InstanceFiles),
			AttributeOf(InstanceMeshFileIndices, x.InstanceIndices),
		},
	}
}

func (x *MeshIndex) MeshCount() int     { return len(x.InstanceCounts) }
func (x *MeshIndex) InstanceCount() int { return len(x.InstanceFiles) }

func (x *MeshIndex) MeshInstanceCount(mesh int) int {
	return int(x.InstanceCounts[mesh])
}

func (x *MeshIndex) MaterialCount(mesh int) int {
	return int(x.MaterialCounts[mesh])
}

func (x *MeshIndex) SubmeshCount(mesh int, section Section) int {
	return sectionCount(x.SubmeshCounts, x.OpaqueSubmeshCounts, mesh, section)
}

func (x *MeshIndex) IndexCount(mesh int, section Section) int {
	return sectionCount(x.IndexCounts, x.OpaqueIndexCounts, mesh, section)
}

func (x *MeshIndex) VertexCount(mesh int, section Section) int {
	return sectionCount(x.VertexCounts, x.OpaqueVertexCounts, mesh, section)
}

func sectionCount(all, opaque []int32, mesh int, section Section) int {
	total := int(all[mesh])
	o := total
	if opaque != nil {
		o = int(opaque[mesh])
	}
	switch section {
	case SectionOpaque:
		return o
	case SectionTransparent:
		return total - o
	default:
		return total
	}
}

// MeshFileName returns the conventional file name of a mesh file.
func MeshFileName(prefix string, mesh int) string {
	return fmt.Sprintf("%s_mesh_%d.g3d", prefix, mesh)
}
