package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/vim-g3d/internal/config"
	"github.com/Faultbox/vim-g3d/internal/logger"
	"github.com/Faultbox/vim-g3d/internal/network"
	"github.com/Faultbox/vim-g3d/pkg/bfast"
	"github.com/Faultbox/vim-g3d/pkg/g3d"
)

const indexSuffix = "_index.g3d"

type tool struct {
	cfg *config.Config
	out io.Writer
}

func isURL(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// open returns a container over a local file or a URL.
func (t *tool) open(loc string) (*bfast.BFast, *network.RemoteBuffer, error) {
	if !isURL(loc) {
		b, err := bfast.Open(loc)
		return b, nil, err
	}
	buf := network.NewRemoteBuffer(loc, t.cfg.Network(), network.WithLogger(logger.Named("transport")))
	return bfast.NewRemote(buf, loc), buf, nil
}

func (t *tool) info(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	src, _, err := t.open(args[0])
	if err != nil {
		return err
	}

	names, err := src.Names(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.out, "Container: %s\n", src.Name())
	fmt.Fprintf(t.out, "Buffers:   %d\n", len(names))
	for _, name := range names {
		r, err := src.Range(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "  %-40s %10d bytes\n", name, r.Length())
	}

	r, err := g3d.LoadRemote(ctx, src)
	if err != nil {
		return err
	}
	counts := []struct {
		label string
		fn    func(context.Context) (int, error)
	}{
		{"Instances", r.InstanceCount},
		{"Meshes", r.MeshCount},
		{"Submeshes", r.SubmeshCount},
		{"Indices", r.IndexCount},
		{"Vertices", r.VertexCount},
		{"Materials", r.MaterialCount},
	}
	fmt.Fprintln(t.out)
	for _, c := range counts {
		n, err := c.fn(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "%-10s %d\n", c.label+":", n)
	}
	return nil
}

func (t *tool) slice(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	ids, err := parseInstances(args[1:2])
	if err != nil {
		return err
	}
	src, _, err := t.open(args[0])
	if err != nil {
		return err
	}
	r, err := g3d.LoadRemote(ctx, src)
	if err != nil {
		return err
	}
	g, err := r.Slice(ctx, ids[0])
	if err != nil {
		return err
	}
	return t.write(args[2], g.Attributes())
}

func (t *tool) filter(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	ids, err := parseInstances(args[2:])
	if err != nil {
		return err
	}
	src, _, err := t.open(args[0])
	if err != nil {
		return err
	}
	r, err := g3d.LoadRemote(ctx, src)
	if err != nil {
		return err
	}
	g, err := r.Filter(ctx, ids)
	if err != nil {
		return err
	}
	return t.write(args[1], g.Attributes())
}

// split writes <prefix>_index.g3d and <prefix>_mesh_<n>.g3d files.
func (t *tool) split(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	src, _, err := t.open(args[0])
	if err != nil {
		return err
	}
	g, err := g3d.Load(ctx, src)
	if err != nil {
		return err
	}

	prefix := args[1]
	if err := t.write(prefix+indexSuffix, g.MeshIndex().Attributes()); err != nil {
		return err
	}
	for m := range g.MeshCount() {
		if err := t.write(g3d.MeshFileName(prefix, m), g.MeshFile(m).Attributes()); err != nil {
			return err
		}
	}
	logger.Info("scene split", zap.String("prefix", prefix), zap.Int("meshes", g.MeshCount()))
	return nil
}

func (t *tool) build(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	section, err := t.cfg.Section()
	if err != nil {
		return err
	}
	ids, err := parseInstances(args[2:])
	if err != nil {
		return err
	}

	src, _, err := t.open(args[0])
	if err != nil {
		return err
	}
	index, err := g3d.LoadMeshIndex(ctx, src)
	if err != nil {
		return err
	}
	subset, err := selectMeshes(index, ids)
	if err != nil {
		return err
	}

	offsets := g3d.ComputeOffsets(subset, g3d.OffsetOptions{Section: section, Merge: t.cfg.Build.Merge})
	b := g3d.NewBuilder(offsets)
	b.SetLimit(t.cfg.Transport.MaxConcurrency)

	prefix := meshPrefix(args[0], t.cfg.Build.MeshURL)
	start := time.Now()
	err = b.Build(ctx, func(ctx context.Context, mesh int) (*g3d.MeshFile, error) {
		src, _, err := t.open(g3d.MeshFileName(prefix, mesh))
		if err != nil {
			return nil, err
		}
		return g3d.LoadMeshFile(ctx, src)
	})
	if err != nil {
		return err
	}

	g, err := b.Geometry(offsets.MeshCount())
	if err != nil {
		return err
	}
	logger.Info("scene built",
		zap.Int("meshes", g.MeshCount()),
		zap.Int("instances", g.InstanceCount()),
		zap.Stringer("section", section),
		zap.Bool("merge", t.cfg.Build.Merge),
		zap.Duration("elapsed", time.Since(start)))
	return t.write(args[1], g.Attributes())
}

// selectMeshes keeps every mesh unless instances are given.
func selectMeshes(index *g3d.MeshIndex, instances []int) (*g3d.MeshSubset, error) {
	if len(instances) == 0 {
		return index.Subset(nil)
	}
	return index.SubsetFromInstances(instances)
}

// meshPrefix resolves where the mesh files of an index live.
func meshPrefix(index, meshURL string) string {
	prefix := strings.TrimSuffix(index, indexSuffix)
	if meshURL == "" {
		return prefix
	}
	base := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		base = prefix[i+1:]
	}
	if isURL(meshURL) {
		return strings.TrimSuffix(meshURL, "/") + "/" + base
	}
	return filepath.Join(meshURL, base)
}

func (t *tool) probe(ctx context.Context, args []string) error {
	if len(args) != 1 || !isURL(args[0]) {
		return errUsage
	}
	src, buf, err := t.open(args[0])
	if err != nil {
		return err
	}
	encoded := buf.Encoded(ctx)
	h, err := src.Header(ctx)
	if err != nil {
		return err
	}
	p := buf.Tracker().Progress()

	fmt.Fprintf(t.out, "URL:       %s\n", args[0])
	fmt.Fprintf(t.out, "Encoded:   %v\n", encoded)
	fmt.Fprintf(t.out, "Buffers:   %d\n", h.NumArrays)
	fmt.Fprintf(t.out, "Data:      [%d, %d)\n", h.DataStart, h.DataEnd)
	fmt.Fprintf(t.out, "Requests:  %d done, %d failed\n", p.Done, p.Failed)
	fmt.Fprintf(t.out, "Cap:       %d\n", buf.MaxConcurrency())
	return nil
}

func (t *tool) write(path string, raw *g3d.AbstractGeometry) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := raw.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Debug("wrote file", zap.String("path", path))
	return nil
}
