package g3d

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/vim-g3d/pkg/bfast"
)

// RemoteAttribute is an attribute whose bytes stay in the source until
// requested.
type RemoteAttribute struct {
	Descriptor Descriptor

	name   string
	source Source
}

// NewRemoteAttribute binds a named buffer of src.
func NewRemoteAttribute(src Source, name string) (*RemoteAttribute, error) {
	desc, err := ParseDescriptor(name)
	if err != nil {
		return nil, err
	}
	return &RemoteAttribute{Descriptor: desc, name: name, source: src}, nil
}

// Name returns the buffer name.
func (a *RemoteAttribute) Name() string {
	return a.name
}

// Count returns the number of elements (scalars / arity).
func (a *RemoteAttribute) Count(ctx context.Context) (int, error) {
	size := a.Descriptor.ElementSize()
	if size == 0 {
		return 0, &UnsupportedTypeError{DataType: a.Descriptor.DataType}
	}
	r, err := a.source.Range(ctx, a.name)
	if err != nil {
		return 0, err
	}
	return int(r.Length()) / size, nil
}

// All fetches the whole buffer as a local attribute.
func (a *RemoteAttribute) All(ctx context.Context) (*Attribute, error) {
	b, err := a.source.Bytes(ctx, a.name)
	if err != nil {
		return nil, err
	}
	return NewAttribute(a.Descriptor, b), nil
}

// Bytes fetches count elements starting at element index.
func (a *RemoteAttribute) Bytes(ctx context.Context, index, count int) ([]byte, error) {
	size := int64(a.Descriptor.ElementSize())
	if size == 0 {
		return nil, &UnsupportedTypeError{DataType: a.Descriptor.DataType}
	}
	return a.source.Span(ctx, a.name, int64(index)*size, int64(count)*size)
}

// remoteValue fetches the scalar at position index of the buffer.
func remoteValue[T Scalar](ctx context.Context, a *RemoteAttribute, index int) (T, error) {
	var zero T
	values, err := remoteValues[T](ctx, a, index, 1)
	if err != nil {
		return zero, err
	}
	return values[0], nil
}

// remoteValues fetches count scalars starting at position index. Scalars
// are counted individually, so a transform is 16 values.
func remoteValues[T Scalar](ctx context.Context, a *RemoteAttribute, index, count int) ([]T, error) {
	if a == nil {
		return nil, ErrMissingAttribute
	}
	var zero T
	size := int64(unsafe.Sizeof(zero))
	b, err := a.source.Span(ctx, a.name, int64(index)*size, int64(count)*size)
	if err != nil {
		return nil, fmt.Errorf("reading %s [%d, %d): %w", a.name, index, index+count, err)
	}
	out := make([]T, count)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", a.name, err)
	}
	return out, nil
}

// RemoteAbstractGeometry is the set of attributes present in a source.
type RemoteAbstractGeometry struct {
	Source     Source
	Attributes []*RemoteAttribute
}

// LoadRemoteAbstract checks which of names are present in src.
func LoadRemoteAbstract(ctx context.Context, src Source, names []string) (*RemoteAbstractGeometry, error) {
	attrs := make([]*RemoteAttribute, len(names))
	for i, name := range names {
		attr, err := NewRemoteAttribute(src, name)
		if err != nil {
			return nil, err
		}
		attrs[i] = attr
	}

	found := make([]*RemoteAttribute, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			_, err := src.Range(ctx, name)
			if errors.Is(err, bfast.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("locating %s: %w", name, err)
			}
			found[i] = attrs[i]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &RemoteAbstractGeometry{Source: src}
	for _, a := range found {
		if a != nil {
			result.Attributes = append(result.Attributes, a)
		}
	}
	return result, nil
}

// Find returns the first attribute matching d, or nil.
func (g *RemoteAbstractGeometry) Find(d Descriptor) *RemoteAttribute {
	for _, a := range g.Attributes {
		if a.Descriptor.Matches(d) {
			return a
		}
	}
	return nil
}

// FindAttribute is Find with the descriptor in wire form.
func (g *RemoteAbstractGeometry) FindAttribute(descriptor string) (*RemoteAttribute, error) {
	d, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return g.Find(d), nil
}
