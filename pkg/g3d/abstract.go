package g3d

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/vim-g3d/pkg/bfast"
)

// Source is the named-buffer container attributes are read from.
// A name that is not present yields an error wrapping bfast.ErrNotFound.
type Source interface {
	Bytes(ctx context.Context, name string) ([]byte, error)
	Range(ctx context.Context, name string) (bfast.Range, error)
	Span(ctx context.Context, name string, offset, length int64) ([]byte, error)
}

// AbstractGeometry is an unordered set of attributes.
type AbstractGeometry struct {
	Meta       string
	Attributes []*Attribute
}

// Find returns the first attribute matching d, or nil.
func (g *AbstractGeometry) Find(d Descriptor) *Attribute {
	for _, a := range g.Attributes {
		if a.Descriptor.Matches(d) {
			return a
		}
	}
	return nil
}

// FindAttribute is Find with the descriptor in wire form.
func (g *AbstractGeometry) FindAttribute(descriptor string) (*Attribute, error) {
	d, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return g.Find(d), nil
}

// LoadAbstract requests every named buffer from src concurrently.
// Buffers that are not present are skipped.
func LoadAbstract(ctx context.Context, src Source, names []string) (*AbstractGeometry, error) {
	descs := make([]Descriptor, len(names))
	for i, name := range names {
		d, err := ParseDescriptor(name)
		if err != nil {
			return nil, err
		}
		descs[i] = d
	}

	attrs := make([]*Attribute, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			b, err := src.Bytes(ctx, name)
			if errors.Is(err, bfast.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", name, err)
			}
			attrs[i] = NewAttribute(descs[i], b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &AbstractGeometry{Meta: "g3d"}
	for _, a := range attrs {
		if a != nil {
			result.Attributes = append(result.Attributes, a)
		}
	}
	return result, nil
}

// Write encodes the set as a container: a "meta" buffer holding Meta, then
// one buffer per attribute named by its descriptor.
func (g *AbstractGeometry) Write(w io.Writer) error {
	names := make([]string, 0, len(g.Attributes)+1)
	buffers := make([][]byte, 0, len(g.Attributes)+1)
	names = append(names, "meta")
	buffers = append(buffers, []byte(g.Meta))
	for _, a := range g.Attributes {
		names = append(names, a.Descriptor.String())
		buffers = append(buffers, a.Bytes)
	}
	return bfast.Write(w, names, buffers)
}

// Marshal is Write into a byte slice.
func (g *AbstractGeometry) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
