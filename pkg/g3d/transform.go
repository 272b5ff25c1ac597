package g3d

import (
	"slices"
)

// Append returns a geometry holding g followed by other at every level.
// Mesh, submesh, material and vertex ids of other are shifted past g's.
func (g *Geometry) Append(other *Geometry) (*Geometry, error) {
	return New(Arrays{
		InstanceMeshes:      slices.Concat(g.InstanceMeshes, shiftIDs(other.InstanceMeshes, g.MeshCount())),
		InstanceFlags:       slices.Concat(g.InstanceFlags, other.InstanceFlags),
		InstanceTransforms:  slices.Concat(g.InstanceTransforms, other.InstanceTransforms),
		MeshSubmeshes:       slices.Concat(g.MeshSubmeshes, shift(other.MeshSubmeshes, g.SubmeshCount())),
		SubmeshIndexOffsets: slices.Concat(g.SubmeshIndexOffsets, shift(other.SubmeshIndexOffsets, g.IndexCount())),
		SubmeshMaterials:    slices.Concat(g.SubmeshMaterials, shiftIDs(other.SubmeshMaterials, g.MaterialCount())),
		Indices:             slices.Concat(g.absoluteIndices(0), other.absoluteIndices(uint32(g.VertexCount()))),
		Positions:           slices.Concat(g.Positions, other.Positions),
		MaterialColors:      slices.Concat(g.MaterialColors, other.MaterialColors),
	})
}

// Slice returns a one-instance geometry holding only the given instance and
// its mesh, with a minimal material palette and vertices renumbered from 0.
func (g *Geometry) Slice(instance int) (*Geometry, error) {
	if instance < 0 || instance >= g.InstanceCount() {
		return nil, invalid("instances", instance, "%v: %d instances", ErrInstanceRange, g.InstanceCount())
	}

	a := Arrays{
		InstanceMeshes:     []int32{-1},
		InstanceFlags:      []uint16{g.InstanceFlags[instance]},
		InstanceTransforms: slices.Clone(g.InstanceMatrix(instance)),
	}
	var parts []meshPart
	if mesh := g.InstanceMesh(instance); mesh >= 0 {
		a.InstanceMeshes[0] = 0
		parts = append(parts, g.meshPart(mesh))
	}
	// An instance without a mesh still gets empty, non-nil buffers.
	assemble(&a, parts)
	a.MaterialColors = remapMaterials(a.SubmeshMaterials, g.MaterialColor)

	return New(a)
}

// Filter returns a geometry holding exactly the given instances, in the
// given order, and the meshes they reference, ordered by original mesh id.
// Repeated instance ids are kept once.
func (g *Geometry) Filter(instances []int) (*Geometry, error) {
	ids, err := uniqueInstances(instances, g.InstanceCount())
	if err != nil {
		return nil, err
	}

	var a Arrays
	a.InstanceMeshes = make([]int32, len(ids))
	a.InstanceFlags = make([]uint16, len(ids))
	a.InstanceTransforms = make([]float32, 0, len(ids)*MatrixSize)
	for i, id := range ids {
		a.InstanceMeshes[i] = g.InstanceMeshes[id]
		a.InstanceFlags[i] = g.InstanceFlags[id]
		a.InstanceTransforms = append(a.InstanceTransforms, g.InstanceMatrix(id)...)
	}

	meshes, meshMap := selectMeshes(a.InstanceMeshes)
	remapMeshes(a.InstanceMeshes, meshMap)

	parts := make([]meshPart, len(meshes))
	for i, m := range meshes {
		parts[i] = g.meshPart(m)
	}
	assemble(&a, parts)

	a.MaterialColors = remapMaterials(a.SubmeshMaterials, g.MaterialColor)
	return New(a)
}

// meshPart is one mesh cut out of a geometry: submesh offsets starting at
// 0, mesh-relative indices and the mesh's vertex block.
type meshPart struct {
	offsets   []int32
	materials []int32
	indices   []uint32
	positions []float32
}

func (g *Geometry) meshPart(m int) meshPart {
	subStart := g.MeshSubmeshStart(m, SectionAll)
	subEnd := g.MeshSubmeshEnd(m, SectionAll)
	return meshPart{
		offsets:   shift(g.SubmeshIndexOffsets[subStart:subEnd], -int(g.SubmeshIndexOffsets[subStart])),
		materials: g.SubmeshMaterials[subStart:subEnd],
		indices:   g.MeshIndices(m, SectionAll),
		positions: g.MeshPositions(m, SectionAll),
	}
}

// assemble appends the mesh parts to a, one mesh each, shifting offsets and
// indices past the parts before them. Materials keep their source ids.
func assemble(a *Arrays, parts []meshPart) {
	submeshCount, indexCount, positionCount := 0, 0, 0
	for _, p := range parts {
		submeshCount += len(p.offsets)
		indexCount += len(p.indices)
		positionCount += len(p.positions)
	}

	a.MeshSubmeshes = make([]int32, 0, len(parts))
	a.SubmeshIndexOffsets = make([]int32, 0, submeshCount)
	a.SubmeshMaterials = make([]int32, 0, submeshCount)
	a.Indices = make([]uint32, 0, indexCount)
	a.Positions = make([]float32, 0, positionCount)

	for _, p := range parts {
		a.MeshSubmeshes = append(a.MeshSubmeshes, int32(len(a.SubmeshIndexOffsets)))

		base := int32(len(a.Indices))
		for _, o := range p.offsets {
			a.SubmeshIndexOffsets = append(a.SubmeshIndexOffsets, o+base)
		}
		a.SubmeshMaterials = append(a.SubmeshMaterials, p.materials...)

		vertexBase := uint32(len(a.Positions) / PositionSize)
		for _, v := range p.indices {
			a.Indices = append(a.Indices, v+vertexBase)
		}
		a.Positions = append(a.Positions, p.positions...)
	}
}

// uniqueInstances checks ids against count and drops repeats, keeping the
// first occurrence.
func uniqueInstances(instances []int, count int) ([]int, error) {
	seen := make(map[int]bool, len(instances))
	ids := make([]int, 0, len(instances))
	for _, id := range instances {
		if id < 0 || id >= count {
			return nil, invalid("instances", id, "%v: %d instances", ErrInstanceRange, count)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// selectMeshes returns the distinct non-negative mesh ids in ascending
// order and their new positions.
func selectMeshes(instanceMeshes []int32) ([]int, map[int32]int32) {
	var meshes []int
	for _, m := range instanceMeshes {
		if m >= 0 {
			meshes = append(meshes, int(m))
		}
	}
	slices.Sort(meshes)
	meshes = slices.Compact(meshes)

	meshMap := make(map[int32]int32, len(meshes))
	for i, m := range meshes {
		meshMap[int32(m)] = int32(i)
	}
	return meshes, meshMap
}

func remapMeshes(instanceMeshes []int32, meshMap map[int32]int32) {
	for i, m := range instanceMeshes {
		if m < 0 {
			continue
		}
		instanceMeshes[i] = meshMap[m]
	}
}

// remapMaterials rewrites materials in place to index a palette of the
// distinct materials they use, in original id order, and returns the
// palette colors. -1 is preserved.
func remapMaterials(materials []int32, color func(material int) [ColorSize]float32) []float32 {
	used := usedMaterials(materials)
	palette := make([]float32, 0, len(used)*ColorSize)
	remap := make(map[int32]int32, len(used))
	for i, m := range used {
		c := color(int(m))
		palette = append(palette, c[:]...)
		remap[m] = int32(i)
	}
	for i, m := range materials {
		if m >= 0 {
			materials[i] = remap[m]
		}
	}
	return palette
}

func usedMaterials(materials []int32) []int32 {
	used := make([]int32, 0, len(materials))
	for _, m := range materials {
		if m >= 0 {
			used = append(used, m)
		}
	}
	slices.Sort(used)
	return slices.Compact(used)
}

// shift adds delta to every value.
func shift(values []int32, delta int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = v + int32(delta)
	}
	return out
}

// shiftIDs adds delta to every id, preserving -1.
func shiftIDs(ids []int32, delta int) []int32 {
	out := make([]int32, len(ids))
	for i, v := range ids {
		if v < 0 {
			out[i] = -1
			continue
		}
		out[i] = v + int32(delta)
	}
	return out
}
