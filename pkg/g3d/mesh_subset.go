package g3d

// MeshSubset selects meshes of a MeshIndex and, optionally, which of each
// mesh's instances to keep.
type MeshSubset struct {
	index  *MeshIndex
	meshes []int
	// instances[i] lists the kept file-relative instances of meshes[i].
	// nil keeps every instance.
	instances [][]int
}

// Subset selects meshes with all their instances. A nil list selects every
// mesh.
func (x *MeshIndex) Subset(meshes []int) (*MeshSubset, error) {
	if meshes == nil {
		meshes = make([]int, x.MeshCount())
		for i := range meshes {
			meshes[i] = i
		}
	}
	for i, m := range meshes {
		if m < 0 || m >= x.MeshCount() {
			return nil, invalid("meshes", i, "%v: mesh %d of %d", ErrMeshRange, m, x.MeshCount())
		}
	}
	return &MeshSubset{index: x, meshes: meshes}, nil
}

// SubsetFromInstances selects the meshes referenced by the given scene
// instances, in ascending mesh order, keeping only those instances.
// Instances without a mesh are skipped.
func (x *MeshIndex) SubsetFromInstances(instances []int) (*MeshSubset, error) {
	ids, err := uniqueInstances(instances, x.InstanceCount())
	if err != nil {
		return nil, err
	}

	byMesh := make(map[int][]int)
	meshIDs := make([]int32, 0, len(ids))
	for _, id := range ids {
		f := x.InstanceFiles[id]
		if f < 0 {
			continue
		}
		meshIDs = append(meshIDs, f)
		byMesh[int(f)] = append(byMesh[int(f)], int(x.InstanceIndices[id]))
	}

	meshes, _ := selectMeshes(meshIDs)
	s := &MeshSubset{index: x, meshes: meshes, instances: make([][]int, len(meshes))}
	for i, m := range meshes {
		s.instances[i] = byMesh[m]
	}
	return s, nil
}

// Index returns the index the subset selects from.
func (s *MeshSubset) Index() *MeshIndex {
	return s.index
}

func (s *MeshSubset) MeshCount() int {
	return len(s.meshes)
}

// Mesh returns the index mesh id of the i-th selected mesh.
func (s *MeshSubset) Mesh(i int) int {
	return s.meshes[i]
}

// MeshInstanceCount returns how many instances of the i-th selected mesh
// are kept.
func (s *MeshSubset) MeshInstanceCount(i int) int {
	if s.instances != nil {
		return len(s.instances[i])
	}
	return s.index.MeshInstanceCount(s.meshes[i])
}

// MeshInstance returns the file-relative instance kept at position k of
// the i-th selected mesh.
func (s *MeshSubset) MeshInstance(i, k int) int {
	if s.instances != nil {
		return s.instances[i][k]
	}
	return k
}

// MeshInstances returns the kept file-relative instances of the i-th
// selected mesh, or nil when all are kept.
func (s *MeshSubset) MeshInstances(i int) []int {
	if s.instances != nil {
		return s.instances[i]
	}
	return nil
}

// FilterUniqueMeshes keeps the meshes with exactly one kept instance.
func (s *MeshSubset) FilterUniqueMeshes() *MeshSubset {
	return s.filterByCount(func(n int) bool { return n == 1 })
}

// FilterNonUniqueMeshes keeps the meshes with more than one kept instance.
func (s *MeshSubset) FilterNonUniqueMeshes() *MeshSubset {
	return s.filterByCount(func(n int) bool { return n > 1 })
}

func (s *MeshSubset) filterByCount(keep func(int) bool) *MeshSubset {
	out := &MeshSubset{index: s.index}
	if s.instances != nil {
		out.instances = [][]int{}
	}
	for i, m := range s.meshes {
		if !keep(s.MeshInstanceCount(i)) {
			continue
		}
		out.meshes = append(out.meshes, m)
		if s.instances != nil {
			out.instances = append(out.instances, s.instances[i])
		}
	}
	return out
}

// Counts holds the size of every buffer of a geometry.
type Counts struct {
	Instances int
	Meshes    int
	Submeshes int
	Indices   int
	Vertices  int
	Materials int
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Instances: c.Instances + o.Instances,
		Meshes:    c.Meshes + o.Meshes,
		Submeshes: c.Submeshes + o.Submeshes,
		Indices:   c.Indices + o.Indices,
		Vertices:  c.Vertices + o.Vertices,
		Materials: c.Materials + o.Materials,
	}
}

// MeshCounts returns what the i-th selected mesh contributes to a built
// geometry. Merged meshes are repeated once per kept instance and share
// one material palette. A mesh with no submesh in the section contributes
// nothing.
func (s *MeshSubset) MeshCounts(i int, opts OffsetOptions) Counts {
	m := s.meshes[i]
	instances := s.MeshInstanceCount(i)
	if instances == 0 || s.index.SubmeshCount(m, opts.Section) == 0 {
		return Counts{}
	}
	c := Counts{
		Instances: instances,
		Meshes:    1,
		Submeshes: s.index.SubmeshCount(m, opts.Section),
		Indices:   s.index.IndexCount(m, opts.Section),
		Vertices:  s.index.VertexCount(m, opts.Section),
		Materials: s.index.MaterialCount(m),
	}
	if opts.Merge {
		c.Meshes *= instances
		c.Submeshes *= instances
		c.Indices *= instances
		c.Vertices *= instances
	}
	return c
}

// Counts returns the totals over every selected mesh.
func (s *MeshSubset) Counts(opts OffsetOptions) Counts {
	var total Counts
	for i := range s.meshes {
		total = total.Add(s.MeshCounts(i, opts))
	}
	return total
}
