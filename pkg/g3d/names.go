package g3d

// Canonical geometry attribute names.
// See https://github.com/vimaec/vim#vim-geometry-attributes
const (
	Positions           = "g3d:vertex:position:0:float32:3"
	Indices             = "g3d:corner:index:0:int32:1"
	InstanceMeshes      = "g3d:instance:mesh:0:int32:1"
	InstanceTransforms  = "g3d:instance:transform:0:float32:16"
	InstanceFlags       = "g3d:instance:flags:0:uint16:1"
	InstanceNodes       = "g3d:instance:node:0:int32:1"
	MeshSubmeshes       = "g3d:mesh:submeshoffset:0:int32:1"
	SubmeshIndexOffsets = "g3d:submesh:indexoffset:0:int32:1"
	SubmeshMaterials    = "g3d:submesh:material:0:int32:1"
	MaterialColors      = "g3d:material:color:0:float32:4"

	// Precomputed opaque partition, written by the mesh splitter.
	MeshOpaqueSubmeshCounts = "g3d:mesh:opaquesubmeshcount:0:int32:1"
)

// GeometryAttributes lists the buffers of a scene geometry.
var GeometryAttributes = []string{
	Positions,
	Indices,
	InstanceMeshes,
	InstanceTransforms,
	InstanceFlags,
	MeshSubmeshes,
	SubmeshIndexOffsets,
	SubmeshMaterials,
	MaterialColors,
}

// Element sizes of the fixed-arity buffers.
const (
	MatrixSize   = 16
	ColorSize    = 4
	PositionSize = 3
)

// DefaultColor is used for submeshes without a material: opaque white.
var DefaultColor = [ColorSize]float32{1, 1, 1, 1}
