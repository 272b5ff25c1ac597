package g3d

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"
)

// RemoteGeometry answers the Geometry queries by fetching scalars and
// spans from a source on demand. It never sorts: opaque counts come from
// the precomputed attribute, or are derived assuming the submeshes are
// already sorted opaque-first.
type RemoteGeometry struct {
	Raw *RemoteAbstractGeometry

	instanceMeshes      *RemoteAttribute
	instanceTransforms  *RemoteAttribute
	instanceFlags       *RemoteAttribute
	meshSubmeshes       *RemoteAttribute
	submeshIndexOffsets *RemoteAttribute
	submeshMaterials    *RemoteAttribute
	indices             *RemoteAttribute
	positions           *RemoteAttribute
	materialColors      *RemoteAttribute
	meshOpaqueCounts    *RemoteAttribute
}

// LoadRemote locates the geometry buffers in src without reading them.
func LoadRemote(ctx context.Context, src Source) (*RemoteGeometry, error) {
	raw, err := LoadRemoteAbstract(ctx, src, append(slices.Clone(GeometryAttributes), MeshOpaqueSubmeshCounts))
	if err != nil {
		return nil, err
	}
	find := func(name string) *RemoteAttribute {
		return raw.Find(MustParseDescriptor(name))
	}
	return &RemoteGeometry{
		Raw:                 raw,
		instanceMeshes:      find(InstanceMeshes),
		instanceTransforms:  find(InstanceTransforms),
		instanceFlags:       find(InstanceFlags),
		meshSubmeshes:       find(MeshSubmeshes),
		submeshIndexOffsets: find(SubmeshIndexOffsets),
		submeshMaterials:    find(SubmeshMaterials),
		indices:             find(Indices),
		positions:           find(Positions),
		materialColors:      find(MaterialColors),
		meshOpaqueCounts:    find(MeshOpaqueSubmeshCounts),
	}, nil
}

// ToGeometry fetches every buffer and builds a local Geometry.
func (r *RemoteGeometry) ToGeometry(ctx context.Context) (*Geometry, error) {
	return Load(ctx, r.Raw.Source)
}

func count(ctx context.Context, a *RemoteAttribute) (int, error) {
	if a == nil {
		return 0, nil
	}
	return a.Count(ctx)
}

func (r *RemoteGeometry) InstanceCount(ctx context.Context) (int, error) {
	return count(ctx, r.instanceMeshes)
}

func (r *RemoteGeometry) MeshCount(ctx context.Context) (int, error) {
	return count(ctx, r.meshSubmeshes)
}

func (r *RemoteGeometry) SubmeshCount(ctx context.Context) (int, error) {
	return count(ctx, r.submeshIndexOffsets)
}

func (r *RemoteGeometry) IndexCount(ctx context.Context) (int, error) {
	return count(ctx, r.indices)
}

func (r *RemoteGeometry) VertexCount(ctx context.Context) (int, error) {
	return count(ctx, r.positions)
}

func (r *RemoteGeometry) MaterialCount(ctx context.Context) (int, error) {
	return count(ctx, r.materialColors)
}

// ------------- Meshes -----------------

func (r *RemoteGeometry) MeshSubmeshStart(ctx context.Context, mesh int, section Section) (int, error) {
	if section == SectionTransparent {
		return r.MeshSubmeshEnd(ctx, mesh, SectionOpaque)
	}
	v, err := remoteValue[int32](ctx, r.meshSubmeshes, mesh)
	return int(v), err
}

func (r *RemoteGeometry) MeshSubmeshEnd(ctx context.Context, mesh int, section Section) (int, error) {
	if section == SectionOpaque {
		start, err := r.MeshSubmeshStart(ctx, mesh, SectionAll)
		if err != nil {
			return 0, err
		}
		n, err := r.meshOpaqueCount(ctx, mesh, start)
		return start + n, err
	}

	meshCount, err := r.MeshCount(ctx)
	if err != nil {
		return 0, err
	}
	if mesh < meshCount-1 {
		v, err := remoteValue[int32](ctx, r.meshSubmeshes, mesh+1)
		return int(v), err
	}
	return r.SubmeshCount(ctx)
}

func (r *RemoteGeometry) MeshSubmeshCount(ctx context.Context, mesh int, section Section) (int, error) {
	start, end, err := r.meshSubmeshRange(ctx, mesh, section)
	return end - start, err
}

func (r *RemoteGeometry) meshSubmeshRange(ctx context.Context, mesh int, section Section) (int, int, error) {
	start, err := r.MeshSubmeshStart(ctx, mesh, section)
	if err != nil {
		return 0, 0, err
	}
	end, err := r.MeshSubmeshEnd(ctx, mesh, section)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// meshOpaqueCount reads the precomputed count, or counts the leading
// opaque submeshes starting at submeshStart.
func (r *RemoteGeometry) meshOpaqueCount(ctx context.Context, mesh, submeshStart int) (int, error) {
	if r.meshOpaqueCounts != nil {
		v, err := remoteValue[int32](ctx, r.meshOpaqueCounts, mesh)
		return int(v), err
	}

	end, err := r.MeshSubmeshEnd(ctx, mesh, SectionAll)
	if err != nil {
		return 0, err
	}
	if end <= submeshStart {
		return 0, nil
	}
	materials, err := remoteValues[int32](ctx, r.submeshMaterials, submeshStart, end-submeshStart)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range materials {
		alpha, err := r.MaterialAlpha(ctx, int(m))
		if err != nil {
			return 0, err
		}
		if alpha < 1 {
			break
		}
		n++
	}
	return n, nil
}

func (r *RemoteGeometry) MeshHasTransparency(ctx context.Context, mesh int) (bool, error) {
	n, err := r.MeshSubmeshCount(ctx, mesh, SectionTransparent)
	return n > 0, err
}

func (r *RemoteGeometry) MeshIndexStart(ctx context.Context, mesh int, section Section) (int, error) {
	start, err := r.MeshSubmeshStart(ctx, mesh, section)
	if err != nil {
		return 0, err
	}
	return r.SubmeshIndexStart(ctx, start)
}

func (r *RemoteGeometry) MeshIndexEnd(ctx context.Context, mesh int, section Section) (int, error) {
	start, end, err := r.meshSubmeshRange(ctx, mesh, section)
	if err != nil {
		return 0, err
	}
	if end <= start {
		return r.SubmeshIndexStart(ctx, start)
	}
	return r.SubmeshIndexEnd(ctx, end-1)
}

func (r *RemoteGeometry) MeshIndexCount(ctx context.Context, mesh int, section Section) (int, error) {
	start, end, err := r.meshIndexRange(ctx, mesh, section)
	return end - start, err
}

func (r *RemoteGeometry) meshIndexRange(ctx context.Context, mesh int, section Section) (int, int, error) {
	start, err := r.MeshIndexStart(ctx, mesh, section)
	if err != nil {
		return 0, 0, err
	}
	end, err := r.MeshIndexEnd(ctx, mesh, section)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// MeshIndices fetches the indices of a mesh section, relative to the
// mesh's lowest referenced vertex.
func (r *RemoteGeometry) MeshIndices(ctx context.Context, mesh int, section Section) ([]uint32, error) {
	start, end, err := r.meshIndexRange(ctx, mesh, SectionAll)
	if err != nil {
		return nil, err
	}
	all, err := remoteValues[uint32](ctx, r.indices, start, end-start)
	if err != nil {
		return nil, err
	}
	lo, _ := vertexBounds(all)
	rebase(all, lo)
	if section == SectionAll {
		return all, nil
	}

	secStart, secEnd, err := r.meshIndexRange(ctx, mesh, section)
	if err != nil {
		return nil, err
	}
	return all[secStart-start : secEnd-start], nil
}

// ------------- Submeshes -----------------

func (r *RemoteGeometry) SubmeshIndexStart(ctx context.Context, submesh int) (int, error) {
	n, err := r.SubmeshCount(ctx)
	if err != nil {
		return 0, err
	}
	if submesh < n {
		v, err := remoteValue[int32](ctx, r.submeshIndexOffsets, submesh)
		return int(v), err
	}
	return r.IndexCount(ctx)
}

func (r *RemoteGeometry) SubmeshIndexEnd(ctx context.Context, submesh int) (int, error) {
	return r.SubmeshIndexStart(ctx, submesh+1)
}

func (r *RemoteGeometry) SubmeshIndexCount(ctx context.Context, submesh int) (int, error) {
	start, err := r.SubmeshIndexStart(ctx, submesh)
	if err != nil {
		return 0, err
	}
	end, err := r.SubmeshIndexEnd(ctx, submesh)
	return end - start, err
}

func (r *RemoteGeometry) SubmeshMaterial(ctx context.Context, submesh int) (int, error) {
	v, err := remoteValue[int32](ctx, r.submeshMaterials, submesh)
	return int(v), err
}

// ------------- Instances -----------------

func (r *RemoteGeometry) InstanceMesh(ctx context.Context, instance int) (int, error) {
	v, err := remoteValue[int32](ctx, r.instanceMeshes, instance)
	return int(v), err
}

// InstanceFlags returns 0 when the source has no flags buffer.
func (r *RemoteGeometry) InstanceFlags(ctx context.Context, instance int) (uint16, error) {
	if r.instanceFlags == nil {
		return 0, nil
	}
	return remoteValue[uint16](ctx, r.instanceFlags, instance)
}

func (r *RemoteGeometry) InstanceMatrix(ctx context.Context, instance int) ([]float32, error) {
	return remoteValues[float32](ctx, r.instanceTransforms, instance*MatrixSize, MatrixSize)
}

// ------------- Materials -----------------

func (r *RemoteGeometry) MaterialColor(ctx context.Context, material int) ([ColorSize]float32, error) {
	if material < 0 {
		return DefaultColor, nil
	}
	var c [ColorSize]float32
	v, err := remoteValues[float32](ctx, r.materialColors, material*ColorSize, ColorSize)
	if err != nil {
		return c, err
	}
	copy(c[:], v)
	return c, nil
}

func (r *RemoteGeometry) MaterialAlpha(ctx context.Context, material int) (float32, error) {
	if material < 0 {
		return 1, nil
	}
	return remoteValue[float32](ctx, r.materialColors, material*ColorSize+ColorSize-1)
}

// ------------- Transforms -----------------

// Slice fetches a single instance and its mesh. The result equals
// Geometry.Slice on the materialized geometry.
func (r *RemoteGeometry) Slice(ctx context.Context, instance int) (*Geometry, error) {
	return r.Filter(ctx, []int{instance})
}

// Filter fetches the given instances and the meshes they reference, with
// the same ordering rules as Geometry.Filter.
func (r *RemoteGeometry) Filter(ctx context.Context, instances []int) (*Geometry, error) {
	instanceCount, err := r.InstanceCount(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := uniqueInstances(instances, instanceCount)
	if err != nil {
		return nil, err
	}

	a := Arrays{
		InstanceMeshes:     make([]int32, len(ids)),
		InstanceFlags:      make([]uint16, len(ids)),
		InstanceTransforms: make([]float32, len(ids)*MatrixSize),
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			mesh, err := r.InstanceMesh(gctx, id)
			if err != nil {
				return err
			}
			flags, err := r.InstanceFlags(gctx, id)
			if err != nil {
				return err
			}
			matrix, err := r.InstanceMatrix(gctx, id)
			if err != nil {
				return err
			}
			a.InstanceMeshes[i] = int32(mesh)
			a.InstanceFlags[i] = flags
			copy(a.InstanceTransforms[i*MatrixSize:], matrix)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	meshes, meshMap := selectMeshes(a.InstanceMeshes)
	remapMeshes(a.InstanceMeshes, meshMap)

	parts := make([]meshPart, len(meshes))
	g, gctx = errgroup.WithContext(ctx)
	for i, m := range meshes {
		g.Go(func() error {
			p, err := r.meshPart(gctx, m)
			if err != nil {
				return fmt.Errorf("fetching mesh %d: %w", m, err)
			}
			parts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	assemble(&a, parts)

	used := usedMaterials(a.SubmeshMaterials)
	colors := make([][ColorSize]float32, len(used))
	g, gctx = errgroup.WithContext(ctx)
	for i, m := range used {
		g.Go(func() error {
			c, err := r.MaterialColor(gctx, int(m))
			colors[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	palette := make(map[int32][ColorSize]float32, len(used))
	for i, m := range used {
		palette[m] = colors[i]
	}
	a.MaterialColors = remapMaterials(a.SubmeshMaterials, func(m int) [ColorSize]float32 {
		return palette[int32(m)]
	})

	return New(a)
}

// meshPart fetches the submeshes, indices and vertex block of a mesh.
func (r *RemoteGeometry) meshPart(ctx context.Context, mesh int) (meshPart, error) {
	var p meshPart
	subStart, subEnd, err := r.meshSubmeshRange(ctx, mesh, SectionAll)
	if err != nil {
		return p, err
	}
	indexStart, err := r.SubmeshIndexStart(ctx, subStart)
	if err != nil {
		return p, err
	}
	indexEnd, err := r.SubmeshIndexStart(ctx, subEnd)
	if err != nil {
		return p, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		offsets, err := remoteValues[int32](gctx, r.submeshIndexOffsets, subStart, subEnd-subStart)
		p.offsets = shift(offsets, -indexStart)
		return err
	})
	g.Go(func() error {
		var err error
		p.materials, err = remoteValues[int32](gctx, r.submeshMaterials, subStart, subEnd-subStart)
		return err
	})
	g.Go(func() error {
		var err error
		p.indices, err = remoteValues[uint32](gctx, r.indices, indexStart, indexEnd-indexStart)
		return err
	})
	if err := g.Wait(); err != nil {
		return p, err
	}

	lo, hi := vertexBounds(p.indices)
	rebase(p.indices, lo)
	p.positions, err = remoteValues[float32](ctx, r.positions, int(lo)*PositionSize, int(hi-lo)*PositionSize)
	return p, err
}

// vertexBounds returns the lowest and one past the highest vertex
// referenced by indices.
func vertexBounds(indices []uint32) (uint32, uint32) {
	if len(indices) == 0 {
		return 0, 0
	}
	lo, hi := indices[0], indices[0]
	for _, v := range indices[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi + 1
}

func rebase(indices []uint32, lo uint32) {
	for i := range indices {
		indices[i] -= lo
	}
}
