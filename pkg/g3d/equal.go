package g3d

import "slices"

// Equal reports whether a and b place the same geometry instance by
// instance: same flags and transforms, and meshes with the same topology,
// resolved submesh colors and mesh-relative positions. Mesh, submesh and
// material numbering may differ.
func Equal(a, b *Geometry) bool {
	if a.InstanceCount() != b.InstanceCount() {
		return false
	}
	for i := range a.InstanceCount() {
		if !InstanceEqual(a, i, b, i) {
			return false
		}
	}
	return true
}

// InstanceEqual compares instance ia of a with instance ib of b.
func InstanceEqual(a *Geometry, ia int, b *Geometry, ib int) bool {
	if a.InstanceFlags[ia] != b.InstanceFlags[ib] {
		return false
	}
	if !slices.Equal(a.InstanceMatrix(ia), b.InstanceMatrix(ib)) {
		return false
	}
	ma, mb := a.InstanceMesh(ia), b.InstanceMesh(ib)
	if ma < 0 || mb < 0 {
		return ma < 0 && mb < 0
	}
	return MeshEqual(a, ma, b, mb)
}

// MeshEqual compares mesh ma of a with mesh mb of b.
func MeshEqual(a *Geometry, ma int, b *Geometry, mb int) bool {
	for _, section := range []Section{SectionAll, SectionOpaque} {
		if a.MeshSubmeshCount(ma, section) != b.MeshSubmeshCount(mb, section) {
			return false
		}
	}

	sa := a.MeshSubmeshStart(ma, SectionAll)
	sb := b.MeshSubmeshStart(mb, SectionAll)
	for k := range a.MeshSubmeshCount(ma, SectionAll) {
		if a.SubmeshIndexCount(sa+k) != b.SubmeshIndexCount(sb+k) {
			return false
		}
		if a.SubmeshColor(sa+k) != b.SubmeshColor(sb+k) {
			return false
		}
	}

	return slices.Equal(a.MeshIndices(ma, SectionAll), b.MeshIndices(mb, SectionAll)) &&
		slices.Equal(a.MeshPositions(ma, SectionAll), b.MeshPositions(mb, SectionAll))
}
