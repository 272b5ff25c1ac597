package g3d

// OffsetOptions controls how a subset is laid out.
type OffsetOptions struct {
	Section Section
	// Merge bakes every instance into its own copy of the mesh.
	Merge bool
}

// BuilderCursor is where one selected mesh starts in every buffer.
type BuilderCursor struct {
	Instance int
	Mesh     int
	Submesh  int
	Index    int
	Vertex   int
	Material int
}

// Move advances the cursor past c.
func (b BuilderCursor) Move(c Counts) BuilderCursor {
	return BuilderCursor{
		Instance: b.Instance + c.Instances,
		Mesh:     b.Mesh + c.Meshes,
		Submesh:  b.Submesh + c.Submeshes,
		Index:    b.Index + c.Indices,
		Vertex:   b.Vertex + c.Vertices,
		Material: b.Material + c.Materials,
	}
}

// MeshOffsets is the preallocation layout of a subset: prefix sums of the
// per-mesh counts.
type MeshOffsets struct {
	Subset  *MeshSubset
	Options OffsetOptions
	Totals  Counts

	cursors []BuilderCursor
	counts  []Counts
}

// ComputeOffsets lays out the selected meshes in subset order.
func ComputeOffsets(subset *MeshSubset, opts OffsetOptions) *MeshOffsets {
	o := &MeshOffsets{
		Subset:  subset,
		Options: opts,
		cursors: make([]BuilderCursor, subset.MeshCount()),
		counts:  make([]Counts, subset.MeshCount()),
	}
	var cursor BuilderCursor
	for i := range o.cursors {
		o.cursors[i] = cursor
		o.counts[i] = subset.MeshCounts(i, opts)
		cursor = cursor.Move(o.counts[i])
	}
	o.Totals = cursor.counts()
	return o
}

func (b BuilderCursor) counts() Counts {
	return Counts{
		Instances: b.Instance,
		Meshes:    b.Mesh,
		Submeshes: b.Submesh,
		Indices:   b.Index,
		Vertices:  b.Vertex,
		Materials: b.Material,
	}
}

// MeshCount returns the number of selected meshes.
func (o *MeshOffsets) MeshCount() int {
	return len(o.cursors)
}

// Cursor returns where the i-th selected mesh starts.
func (o *MeshOffsets) Cursor(i int) BuilderCursor {
	return o.cursors[i]
}

// Counts returns what the i-th selected mesh occupies.
func (o *MeshOffsets) Counts(i int) Counts {
	return o.counts[i]
}
