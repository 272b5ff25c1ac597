package g3d

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flywave/go3d/mat4"
	"github.com/flywave/go3d/vec3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MeshFetcher loads the mesh file of an index mesh.
type MeshFetcher func(ctx context.Context, mesh int) (*MeshFile, error)

// Builder assembles a geometry from mesh files into buffers preallocated
// from a MeshOffsets layout. Meshes may be inserted in any order and from
// several goroutines; each writes only its own slots.
type Builder struct {
	offsets *MeshOffsets
	arrays  Arrays
	nodes   []int32
	limit   int

	mu    sync.Mutex
	done  []bool
	ready int
}

// NewBuilder allocates the buffers for the layout's totals.
func NewBuilder(offsets *MeshOffsets) *Builder {
	t := offsets.Totals
	return &Builder{
		offsets: offsets,
		arrays: Arrays{
			InstanceMeshes:      make([]int32, t.Instances),
			InstanceFlags:       make([]uint16, t.Instances),
			InstanceTransforms:  make([]float32, t.Instances*MatrixSize),
			MeshSubmeshes:       make([]int32, t.Meshes),
			SubmeshIndexOffsets: make([]int32, t.Submeshes),
			SubmeshMaterials:    make([]int32, t.Submeshes),
			Indices:             make([]uint32, t.Indices),
			Positions:           make([]float32, t.Vertices*PositionSize),
			MaterialColors:      make([]float32, t.Materials*ColorSize),
		},
		nodes: make([]int32, t.Instances),
		limit: 10,
		done:  make([]bool, offsets.MeshCount()),
	}
}

// SetLimit bounds how many meshes Build fetches at once.
func (b *Builder) SetLimit(n int) {
	b.limit = max(n, 1)
}

// Build fetches every selected mesh and inserts it.
func (b *Builder) Build(ctx context.Context, fetch MeshFetcher) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i := range b.offsets.MeshCount() {
		g.Go(func() error {
			mesh := b.offsets.Subset.Mesh(i)
			m, err := fetch(ctx, mesh)
			if err != nil {
				return fmt.Errorf("fetching mesh %d: %w", mesh, err)
			}
			return b.Insert(i, m)
		})
	}
	return g.Wait()
}

// Insert writes the i-th selected mesh at its cursor.
func (b *Builder) Insert(i int, m *MeshFile) error {
	c := b.offsets.Cursor(i)
	counts := b.offsets.Counts(i)
	if counts.Meshes > 0 {
		if err := b.insert(i, c, counts, m); err != nil {
			return fmt.Errorf("inserting mesh %d: %w", b.offsets.Subset.Mesh(i), err)
		}
	}

	b.mu.Lock()
	b.done[i] = true
	for b.ready < len(b.done) && b.done[b.ready] {
		b.ready++
	}
	ready := b.ready
	b.mu.Unlock()

	log.Debug("mesh inserted",
		zap.Int("slot", i),
		zap.Int("mesh", b.offsets.Subset.Mesh(i)),
		zap.Int("ready", ready))
	return nil
}

func (b *Builder) insert(i int, c BuilderCursor, counts Counts, m *MeshFile) error {
	section := b.offsets.Options.Section
	merge := b.offsets.Options.Merge
	subset := b.offsets.Subset

	copies := 1
	if merge {
		copies = counts.Instances
	}
	subCount := counts.Submeshes / copies
	indexCount := counts.Indices / copies
	vertexCount := counts.Vertices / copies

	ss, se := m.SubmeshStart(section), m.SubmeshEnd(section)
	is, ie := m.IndexStart(section), m.IndexEnd(section)
	vs, ve := m.VertexStart(section), m.VertexEnd(section)
	switch {
	case se-ss != subCount:
		return invalid("submeshes", -1, "file has %d, index expects %d", se-ss, subCount)
	case ie-is != indexCount:
		return invalid("indices", -1, "file has %d, index expects %d", ie-is, indexCount)
	case ve-vs != vertexCount:
		return invalid("positions", -1, "file has %d vertices, index expects %d", ve-vs, vertexCount)
	case m.MaterialCount() != counts.Materials:
		return invalid("materials", -1, "file has %d, index expects %d", m.MaterialCount(), counts.Materials)
	}

	// Instances
	for k := range counts.Instances {
		src := subset.MeshInstance(i, k)
		if src < 0 || src >= m.InstanceCount() {
			return invalid("instances", k, "%v: %d of %d in file", ErrInstanceRange, src, m.InstanceCount())
		}
		dst := c.Instance + k
		b.arrays.InstanceFlags[dst] = m.InstanceFlags[src]
		if len(m.InstanceNodes) > src {
			b.nodes[dst] = m.InstanceNodes[src]
		}
		matrix := m.InstanceTransforms[src*MatrixSize : (src+1)*MatrixSize]
		if merge {
			b.arrays.InstanceMeshes[dst] = int32(c.Mesh + k)
			copy(b.arrays.InstanceTransforms[dst*MatrixSize:], identity)
		} else {
			b.arrays.InstanceMeshes[dst] = int32(c.Mesh)
			copy(b.arrays.InstanceTransforms[dst*MatrixSize:], matrix)
		}
	}

	// Meshes
	for k := range copies {
		submesh := c.Submesh + k*subCount
		index := c.Index + k*indexCount
		vertex := c.Vertex + k*vertexCount
		b.arrays.MeshSubmeshes[c.Mesh+k] = int32(submesh)

		for s := ss; s < se; s++ {
			b.arrays.SubmeshIndexOffsets[submesh+s-ss] = m.SubmeshIndexOffsets[s] - int32(is) + int32(index)
			mat := m.SubmeshMaterials[s]
			if mat >= 0 {
				mat += int32(c.Material)
			}
			b.arrays.SubmeshMaterials[submesh+s-ss] = mat
		}

		for n, v := range m.Indices[is:ie] {
			if int(v) < vs || int(v) >= ve {
				return fmt.Errorf("%w: index %d reaches vertex %d outside [%d, %d)", ErrNotPartitioned, is+n, v, vs, ve)
			}
			b.arrays.Indices[index+n] = v - uint32(vs) + uint32(vertex)
		}

		positions := b.arrays.Positions[vertex*PositionSize : (vertex+vertexCount)*PositionSize]
		copy(positions, m.Positions[vs*PositionSize:ve*PositionSize])
		if merge {
			src := subset.MeshInstance(i, k)
			t := matrixOf(m.InstanceTransforms[src*MatrixSize : (src+1)*MatrixSize])
			bake(positions, &t)
		}
	}

	copy(b.arrays.MaterialColors[c.Material*ColorSize:], m.MaterialColors)
	return nil
}

// bake transforms positions in place.
func bake(positions []float32, t *mat4.T) {
	for v := 0; v+PositionSize <= len(positions); v += PositionSize {
		p := vec3.T{positions[v], positions[v+1], positions[v+2]}
		t.TransformVec3(&p)
		positions[v], positions[v+1], positions[v+2] = p[0], p[1], p[2]
	}
}

var identity = func() []float32 {
	m := make([]float32, MatrixSize)
	for i := 0; i < MatrixSize; i++ {
		m[i] = mat4.Ident[i/4][i%4]
	}
	return m
}()

// Completed reports whether the i-th selected mesh has been inserted.
func (b *Builder) Completed(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done[i]
}

// Ready returns how many leading selected meshes are inserted.
func (b *Builder) Ready() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// InstanceNodes returns the scene node of every built instance.
func (b *Builder) InstanceNodes() []int32 {
	return b.nodes
}

// Geometry returns the first upTo selected meshes, which must be inserted,
// as a geometry.
func (b *Builder) Geometry(upTo int) (*Geometry, error) {
	if upTo > b.Ready() {
		return nil, fmt.Errorf("g3d: %d meshes requested, %d ready", upTo, b.Ready())
	}
	end := b.offsets.Totals
	if upTo < b.offsets.MeshCount() {
		end = b.offsets.Cursor(upTo).counts()
	}
	a := b.arrays
	return New(Arrays{
		InstanceMeshes:      slices.Clone(a.InstanceMeshes[:end.Instances]),
		InstanceFlags:       slices.Clone(a.InstanceFlags[:end.Instances]),
		InstanceTransforms:  slices.Clone(a.InstanceTransforms[:end.Instances*MatrixSize]),
		MeshSubmeshes:       slices.Clone(a.MeshSubmeshes[:end.Meshes]),
		SubmeshIndexOffsets: a.SubmeshIndexOffsets[:end.Submeshes],
		SubmeshMaterials:    a.SubmeshMaterials[:end.Submeshes],
		Indices:             a.Indices[:end.Indices],
		Positions:           slices.Clone(a.Positions[:end.Vertices*PositionSize]),
		MaterialColors:      slices.Clone(a.MaterialColors[:end.Materials*ColorSize]),
	})
}
