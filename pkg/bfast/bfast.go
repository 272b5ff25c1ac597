// Package bfast reads BFast containers: a header, a table of byte ranges
// and a list of named buffers, which may themselves be containers.
package bfast

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Magic identifies a BFast container.
const Magic = 0xBFA5

const (
	headerSize = 32
	rangeSize  = 16
	alignment  = 64
)

// BFast errors.
var (
	ErrNotFound     = errors.New("bfast: buffer not found")
	ErrInvalidMagic = errors.New("bfast: invalid magic")
	ErrTruncated    = errors.New("bfast: truncated data")
	ErrOutOfRange   = errors.New("bfast: span out of range")
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r Range) Length() int64 {
	return r.End - r.Start
}

// Offset returns the range moved by delta bytes.
func (r Range) Offset(delta int64) Range {
	return Range{Start: r.Start + delta, End: r.End + delta}
}

// Header is the fixed-size start of a container.
type Header struct {
	Magic     int64
	DataStart int64
	DataEnd   int64
	NumArrays int64
}

// Fetcher reads bytes of the resource backing a container.
// A nil range requests the whole resource.
type Fetcher interface {
	Fetch(ctx context.Context, r *Range, label string) ([]byte, error)
}

// BFast is a container whose table is read lazily on first use.
type BFast struct {
	fetcher Fetcher
	offset  int64
	name    string

	mu      sync.Mutex
	header  Header
	entries map[string]Range
	names   []string
}

// New returns a container over bytes held in memory.
func New(data []byte) *BFast {
	return &BFast{fetcher: memory(data), name: "memory"}
}

// NewRemote returns a container read through f.
func NewRemote(f Fetcher, name string) *BFast {
	return &BFast{fetcher: f, name: name}
}

// Open reads a container file into memory.
func Open(path string) (*BFast, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	b := New(data)
	b.name = path
	return b, nil
}

// Name returns the label used in requests and errors.
func (b *BFast) Name() string {
	return b.name
}

// Header returns the container header.
func (b *BFast) Header(ctx context.Context) (Header, error) {
	if err := b.load(ctx); err != nil {
		return Header{}, err
	}
	return b.header, nil
}

// Names returns the buffer names in table order.
func (b *BFast) Names(ctx context.Context) ([]string, error) {
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return b.names, nil
}

// Range returns the byte range of a named buffer relative to the start of
// the container.
func (b *BFast) Range(ctx context.Context, name string) (Range, error) {
	if err := b.load(ctx); err != nil {
		return Range{}, err
	}
	r, ok := b.entries[name]
	if !ok {
		return Range{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r, nil
}

// Bytes returns the content of a named buffer.
func (b *BFast) Bytes(ctx context.Context, name string) ([]byte, error) {
	r, err := b.Range(ctx, name)
	if err != nil {
		return nil, err
	}
	abs := r.Offset(b.offset)
	return b.fetcher.Fetch(ctx, &abs, name)
}

// Span returns length bytes of a named buffer starting at offset.
func (b *BFast) Span(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	r, err := b.Range(ctx, name)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > r.Length() {
		return nil, fmt.Errorf("%w: [%d, %d) of %s (%d bytes)", ErrOutOfRange, offset, offset+length, name, r.Length())
	}
	if length == 0 {
		return []byte{}, nil
	}
	span := Range{Start: r.Start + offset, End: r.Start + offset + length}.Offset(b.offset)
	return b.fetcher.Fetch(ctx, &span, name)
}

// Child returns the nested container stored in a named buffer.
func (b *BFast) Child(ctx context.Context, name string) (*BFast, error) {
	r, err := b.Range(ctx, name)
	if err != nil {
		return nil, err
	}
	return &BFast{
		fetcher: b.fetcher,
		offset:  b.offset + r.Start,
		name:    b.name + "/" + name,
	}, nil
}

func (b *BFast) load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries != nil {
		return nil
	}

	data, err := b.fetch(ctx, 0, headerSize, "header")
	if err != nil {
		return err
	}
	var header Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: header of %s", ErrTruncated, b.name)
	}
	if header.Magic != Magic {
		return fmt.Errorf("%w: 0x%x in %s", ErrInvalidMagic, header.Magic, b.name)
	}
	if header.NumArrays < 1 {
		b.header = header
		b.entries = map[string]Range{}
		return nil
	}

	data, err = b.fetch(ctx, headerSize, header.NumArrays*rangeSize, "ranges")
	if err != nil {
		return err
	}
	ranges := make([]Range, header.NumArrays)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, ranges); err != nil {
		return fmt.Errorf("%w: ranges of %s", ErrTruncated, b.name)
	}

	data, err = b.fetch(ctx, ranges[0].Start, ranges[0].Length(), "names")
	if err != nil {
		return err
	}
	names := parseNames(data)
	if len(names) > len(ranges)-1 {
		names = names[:len(ranges)-1]
	}

	entries := make(map[string]Range, len(names))
	for i, name := range names {
		entries[name] = ranges[i+1]
	}
	b.header = header
	b.names = names
	b.entries = entries
	return nil
}

func (b *BFast) fetch(ctx context.Context, start, length int64, label string) ([]byte, error) {
	r := Range{Start: start, End: start + length}.Offset(b.offset)
	data, err := b.fetcher.Fetch(ctx, &r, label)
	if err != nil {
		return nil, fmt.Errorf("reading %s of %s: %w", label, b.name, err)
	}
	if int64(len(data)) < length {
		return nil, fmt.Errorf("%w: %s of %s", ErrTruncated, label, b.name)
	}
	return data, nil
}

func parseNames(data []byte) []string {
	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{0})
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = string(p)
	}
	return names
}

// memory serves ranges of an in-memory resource without copying.
type memory []byte

func (m memory) Fetch(_ context.Context, r *Range, _ string) ([]byte, error) {
	if r == nil {
		return m, nil
	}
	if r.Start < 0 || r.End < r.Start || r.End > int64(len(m)) {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrTruncated, r.Start, r.End, len(m))
	}
	return m[r.Start:r.End], nil
}
