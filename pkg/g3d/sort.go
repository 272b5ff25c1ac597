package g3d

// swapAll swaps elements i and j in every array.
func swapAll[T any](i, j int, arrays ...[]T) {
	for _, a := range arrays {
		a[i], a[j] = a[j], a[i]
	}
}

// bubbleSort orders [start, end) of every array by decreasing key. It is
// stable, and meant for the handful of submeshes a mesh usually has.
// Returns true if anything moved.
func bubbleSort[T any](start, end int, key func(i int) float32, arrays ...[]T) bool {
	swapped := false
	for {
		loop := false
		for i := start; i < end-1; i++ {
			if key(i) < key(i+1) {
				swapAll(i, i+1, arrays...)
				loop = true
				swapped = true
			}
		}
		if !loop {
			return swapped
		}
	}
}

// sortSubmeshes reorders submesh offsets, materials and indices so that
// within each mesh, submeshes are sorted by decreasing material alpha.
// Opaque submeshes then form a contiguous prefix of every mesh.
func (g *Geometry) sortSubmeshes() {
	// Submesh ends and mesh starts must be captured before anything moves.
	submeshCount := g.SubmeshCount()
	submeshEnd := make([]int32, submeshCount)
	for s := range submeshCount {
		submeshEnd[s] = int32(g.SubmeshIndexEnd(s))
	}
	meshCount := g.MeshCount()
	meshIndexOffsets := make([]int, meshCount)
	meshIndexCounts := make([]int, meshCount)
	for m := range meshCount {
		meshIndexOffsets[m] = g.MeshIndexStart(m, SectionAll)
		meshIndexCounts[m] = g.MeshIndexCount(m, SectionAll)
	}

	reordered := make([]bool, meshCount)
	largest := 0
	for m := range meshCount {
		subStart := g.MeshSubmeshStart(m, SectionAll)
		subEnd := g.MeshSubmeshEnd(m, SectionAll)
		if subEnd-subStart <= 1 {
			continue
		}
		reordered[m] = bubbleSort(subStart, subEnd, g.SubmeshAlpha,
			g.SubmeshIndexOffsets, g.SubmeshMaterials, submeshEnd)
		if reordered[m] {
			largest = max(largest, meshIndexCounts[m])
		}
	}
	if largest == 0 {
		return
	}
	g.reorderIndices(meshIndexOffsets, submeshEnd, reordered, largest)
}

// reorderIndices rewrites the index range of every reordered mesh to follow
// the new submesh order, and points each submesh offset at its new start.
func (g *Geometry) reorderIndices(meshIndexOffsets []int, submeshEnd []int32, reordered []bool, bufferSize int) {
	buffer := make([]uint32, bufferSize)
	for m, moved := range reordered {
		if !moved {
			continue
		}
		meshOffset := meshIndexOffsets[m]
		subStart := g.MeshSubmeshStart(m, SectionAll)
		subEnd := g.MeshSubmeshEnd(m, SectionAll)

		n := 0
		for s := subStart; s < subEnd; s++ {
			start := int(g.SubmeshIndexOffsets[s])
			end := int(submeshEnd[s])
			g.SubmeshIndexOffsets[s] = int32(meshOffset + n)
			n += copy(buffer[n:], g.Indices[start:end])
		}
		copy(g.Indices[meshOffset:], buffer[:n])
	}
}
