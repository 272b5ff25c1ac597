package g3d

import (
	"fmt"

	"github.com/flywave/go3d/mat4"
)

// Section selects part of a mesh's sorted submesh run.
type Section int

const (
	SectionAll Section = iota
	SectionOpaque
	SectionTransparent
)

// String returns the section name.
func (s Section) String() string {
	switch s {
	case SectionAll:
		return "all"
	case SectionOpaque:
		return "opaque"
	case SectionTransparent:
		return "transparent"
	default:
		return fmt.Sprintf("Section(%d)", int(s))
	}
}

// ParseSection parses "all", "opaque" or "transparent".
func ParseSection(s string) (Section, error) {
	switch s {
	case "all", "":
		return SectionAll, nil
	case "opaque":
		return SectionOpaque, nil
	case "transparent":
		return SectionTransparent, nil
	default:
		return SectionAll, fmt.Errorf("unknown section %q", s)
	}
}

// ------------- All -----------------

func (g *Geometry) VertexCount() int   { return len(g.Positions) / PositionSize }
func (g *Geometry) IndexCount() int    { return len(g.Indices) }
func (g *Geometry) MeshCount() int     { return len(g.MeshSubmeshes) }
func (g *Geometry) SubmeshCount() int  { return len(g.SubmeshIndexOffsets) }
func (g *Geometry) InstanceCount() int { return len(g.InstanceMeshes) }
func (g *Geometry) MaterialCount() int { return len(g.MaterialColors) / ColorSize }

// ------------- Meshes -----------------

func (g *Geometry) MeshSubmeshStart(mesh int, section Section) int {
	if section == SectionTransparent {
		return g.MeshSubmeshEnd(mesh, SectionOpaque)
	}
	return int(g.MeshSubmeshes[mesh])
}

func (g *Geometry) MeshSubmeshEnd(mesh int, section Section) int {
	if section == SectionOpaque {
		return int(g.MeshSubmeshes[mesh]) + g.meshOpaqueCount[mesh]
	}
	if mesh < len(g.MeshSubmeshes)-1 {
		return int(g.MeshSubmeshes[mesh+1])
	}
	return g.SubmeshCount()
}

func (g *Geometry) MeshSubmeshCount(mesh int, section Section) int {
	return g.MeshSubmeshEnd(mesh, section) - g.MeshSubmeshStart(mesh, section)
}

func (g *Geometry) MeshIndexStart(mesh int, section Section) int {
	return g.SubmeshIndexStart(g.MeshSubmeshStart(mesh, section))
}

func (g *Geometry) MeshIndexEnd(mesh int, section Section) int {
	start := g.MeshSubmeshStart(mesh, section)
	end := g.MeshSubmeshEnd(mesh, section)
	if end <= start {
		return g.SubmeshIndexStart(start)
	}
	return g.SubmeshIndexEnd(end - 1)
}

func (g *Geometry) MeshIndexCount(mesh int, section Section) int {
	return g.MeshIndexEnd(mesh, section) - g.MeshIndexStart(mesh, section)
}

// MeshIndices returns the mesh-relative indices of a mesh section.
func (g *Geometry) MeshIndices(mesh int, section Section) []uint32 {
	return g.Indices[g.MeshIndexStart(mesh, section):g.MeshIndexEnd(mesh, section)]
}

// MeshVertexStart returns the first vertex of a mesh section. Opaque
// vertices are the leading ones reached by the opaque indices; transparent
// vertices are the rest of the mesh block.
func (g *Geometry) MeshVertexStart(mesh int, section Section) int {
	start := int(g.meshVertexOffsets[mesh])
	if section == SectionTransparent {
		return start + g.meshOpaqueVertexCount[mesh]
	}
	return start
}

func (g *Geometry) MeshVertexEnd(mesh int, section Section) int {
	if section == SectionOpaque {
		return int(g.meshVertexOffsets[mesh]) + g.meshOpaqueVertexCount[mesh]
	}
	return int(g.meshVertexEnds[mesh])
}

func (g *Geometry) MeshVertexCount(mesh int, section Section) int {
	return g.MeshVertexEnd(mesh, section) - g.MeshVertexStart(mesh, section)
}

// MeshPositions returns the position floats of a mesh section.
func (g *Geometry) MeshPositions(mesh int, section Section) []float32 {
	return g.Positions[g.MeshVertexStart(mesh, section)*PositionSize : g.MeshVertexEnd(mesh, section)*PositionSize]
}

func (g *Geometry) MeshHasTransparency(mesh int) bool {
	return g.MeshSubmeshCount(mesh, SectionTransparent) > 0
}

// MeshInstances returns the instances that reference a mesh.
func (g *Geometry) MeshInstances(mesh int) []int {
	return g.meshInstances[mesh]
}

func (g *Geometry) MeshInstanceCount(mesh int) int {
	return len(g.meshInstances[mesh])
}

// ------------- Submeshes -----------------

func (g *Geometry) SubmeshIndexStart(submesh int) int {
	if submesh < len(g.SubmeshIndexOffsets) {
		return int(g.SubmeshIndexOffsets[submesh])
	}
	return len(g.Indices)
}

func (g *Geometry) SubmeshIndexEnd(submesh int) int {
	if submesh < len(g.SubmeshIndexOffsets)-1 {
		return int(g.SubmeshIndexOffsets[submesh+1])
	}
	return len(g.Indices)
}

func (g *Geometry) SubmeshIndexCount(submesh int) int {
	return g.SubmeshIndexEnd(submesh) - g.SubmeshIndexStart(submesh)
}

// SubmeshColor returns the RGBA color of a submesh's material.
func (g *Geometry) SubmeshColor(submesh int) [ColorSize]float32 {
	return g.MaterialColor(int(g.SubmeshMaterials[submesh]))
}

func (g *Geometry) SubmeshAlpha(submesh int) float32 {
	return g.MaterialAlpha(int(g.SubmeshMaterials[submesh]))
}

func (g *Geometry) SubmeshIsTransparent(submesh int) bool {
	return g.SubmeshAlpha(submesh) < 1
}

// ------------- Instances -----------------

// InstanceMesh returns the mesh of an instance, or -1.
func (g *Geometry) InstanceMesh(instance int) int {
	return int(g.InstanceMeshes[instance])
}

// InstanceMatrix returns the 16 floats of an instance transform.
func (g *Geometry) InstanceMatrix(instance int) []float32 {
	return g.InstanceTransforms[instance*MatrixSize : (instance+1)*MatrixSize]
}

// InstanceTransform returns an instance transform as a matrix whose
// fourth column holds the translation.
func (g *Geometry) InstanceTransform(instance int) mat4.T {
	return matrixOf(g.InstanceMatrix(instance))
}

func (g *Geometry) InstanceHasFlag(instance int, flag uint16) bool {
	return g.InstanceFlags[instance]&flag != 0
}

// ------------- Materials -----------------

// MaterialColor returns the RGBA color of a material; -1 is opaque white.
func (g *Geometry) MaterialColor(material int) [ColorSize]float32 {
	if material < 0 {
		return DefaultColor
	}
	var c [ColorSize]float32
	copy(c[:], g.MaterialColors[material*ColorSize:])
	return c
}

func (g *Geometry) MaterialAlpha(material int) float32 {
	if material < 0 {
		return 1
	}
	return g.MaterialColors[material*ColorSize+ColorSize-1]
}

func matrixOf(m []float32) mat4.T {
	var t mat4.T
	for i := 0; i < MatrixSize; i++ {
		t[i/4][i%4] = m[i]
	}
	return t
}
