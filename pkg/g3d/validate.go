package g3d

func (a *Arrays) validate() error {
	vertexCount := len(a.Positions) / PositionSize
	indexCount := len(a.Indices)
	instanceCount := len(a.InstanceMeshes)
	meshCount := len(a.MeshSubmeshes)
	submeshCount := len(a.SubmeshIndexOffsets)
	materialCount := len(a.MaterialColors) / ColorSize

	// Basic
	if len(a.Positions)%PositionSize != 0 {
		return invalid("positions", -1, "length %d not divisible by %d", len(a.Positions), PositionSize)
	}
	if indexCount%3 != 0 {
		return invalid("indices", -1, "length %d not divisible by 3", indexCount)
	}
	for i, v := range a.Indices {
		if int64(v) >= int64(vertexCount) {
			return invalid("indices", i, "vertex %d out of range [0, %d)", int32(v), vertexCount)
		}
	}

	// Instances
	if len(a.InstanceTransforms) != instanceCount*MatrixSize {
		return invalid("instanceTransforms", -1, "length %d, expected %d for %d instances",
			len(a.InstanceTransforms), instanceCount*MatrixSize, instanceCount)
	}
	if len(a.InstanceFlags) != instanceCount {
		return invalid("instanceFlags", -1, "length %d, expected %d", len(a.InstanceFlags), instanceCount)
	}
	for i, m := range a.InstanceMeshes {
		if m < -1 || int(m) >= meshCount {
			return invalid("instanceMeshes", i, "mesh %d out of range [-1, %d)", m, meshCount)
		}
	}

	// Meshes
	for i, s := range a.MeshSubmeshes {
		if s < 0 || int(s) >= submeshCount {
			return invalid("meshSubmeshes", i, "submesh %d out of range [0, %d)", s, submeshCount)
		}
		if i == 0 && s != 0 {
			return invalid("meshSubmeshes", i, "first mesh must start at submesh 0")
		}
		if i > 0 && a.MeshSubmeshes[i-1] >= s {
			return invalid("meshSubmeshes", i, "out of sequence")
		}
	}

	// Submeshes
	if len(a.SubmeshMaterials) != submeshCount {
		return invalid("submeshMaterials", -1, "length %d, expected %d", len(a.SubmeshMaterials), submeshCount)
	}
	for i, o := range a.SubmeshIndexOffsets {
		if o < 0 || int(o) >= indexCount {
			return invalid("submeshIndexOffsets", i, "index %d out of range [0, %d)", o, indexCount)
		}
		if o%3 != 0 {
			return invalid("submeshIndexOffsets", i, "offset %d not divisible by 3", o)
		}
		if i == 0 && o != 0 {
			return invalid("submeshIndexOffsets", i, "first submesh must start at index 0")
		}
		if i > 0 && a.SubmeshIndexOffsets[i-1] >= o {
			return invalid("submeshIndexOffsets", i, "out of sequence")
		}
	}
	for i, m := range a.SubmeshMaterials {
		if m < -1 || int(m) >= materialCount {
			return invalid("submeshMaterials", i, "material %d out of range [-1, %d)", m, materialCount)
		}
	}

	// Materials
	if len(a.MaterialColors)%ColorSize != 0 {
		return invalid("materialColors", -1, "length %d not divisible by %d", len(a.MaterialColors), ColorSize)
	}
	return nil
}
