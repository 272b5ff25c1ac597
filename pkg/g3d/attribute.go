package g3d

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"go.uber.org/zap"
)

// Scalar is any value type an attribute buffer can hold.
type Scalar interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Attribute binds a descriptor to raw bytes and their typed view.
type Attribute struct {
	Descriptor Descriptor
	Bytes      []byte

	data any
}

// NewAttribute casts bytes according to the descriptor's data type.
// 64-bit integer and unknown types are logged and get no typed view.
func NewAttribute(desc Descriptor, b []byte) *Attribute {
	return &Attribute{
		Descriptor: desc,
		Bytes:      b,
		data:       castData(b, desc.DataType),
	}
}

// ParseAttribute is NewAttribute with the descriptor given in wire form.
func ParseAttribute(descriptor string, b []byte) (*Attribute, error) {
	desc, err := ParseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return NewAttribute(desc, b), nil
}

// AttributeOf builds an attribute over a typed slice.
func AttributeOf[T Scalar](descriptor string, values []T) *Attribute {
	desc := MustParseDescriptor(descriptor)
	return &Attribute{Descriptor: desc, Bytes: asBytes(values), data: values}
}

// Data returns the typed view, or nil if the type could not be cast.
func (a *Attribute) Data() any {
	return a.data
}

// Count returns the number of elements (scalars / arity).
func (a *Attribute) Count() int {
	size := a.Descriptor.ElementSize()
	if size == 0 {
		return 0
	}
	return len(a.Bytes) / size
}

// Values returns the attribute's typed view when it holds T.
func Values[T Scalar](a *Attribute) ([]T, bool) {
	if a == nil {
		return nil, false
	}
	v, ok := a.data.([]T)
	return v, ok
}

func (a *Attribute) Float32s() []float32 { v, _ := Values[float32](a); return v }
func (a *Attribute) Float64s() []float64 { v, _ := Values[float64](a); return v }
func (a *Attribute) Int32s() []int32     { v, _ := Values[int32](a); return v }
func (a *Attribute) Uint32s() []uint32   { v, _ := Values[uint32](a); return v }
func (a *Attribute) Uint16s() []uint16   { v, _ := Values[uint16](a); return v }
func (a *Attribute) Int16s() []int16     { v, _ := Values[int16](a); return v }
func (a *Attribute) Int8s() []int8       { v, _ := Values[int8](a); return v }
func (a *Attribute) Uint8s() []uint8     { v, _ := Values[uint8](a); return v }

func castData(b []byte, dataType DataType) any {
	switch dataType {
	case Float32:
		return cast[float32](b)
	case Float64:
		return cast[float64](b)
	case Uint8:
		return b
	case Int8:
		return cast[int8](b)
	case Int16:
		return cast[int16](b)
	case Uint16:
		return cast[uint16](b)
	case Int32:
		return cast[int32](b)
	case Uint32:
		return cast[uint32](b)
	default:
		log.Warn("attribute has no typed view", zap.Error(&UnsupportedTypeError{DataType: dataType}))
		return nil
	}
}

// cast reinterprets b as []T without copying when the span is aligned on a
// little-endian host, and decodes a copy otherwise.
func cast[T Scalar](b []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(b) / size
	if n == 0 {
		return []T{}
	}
	if littleEndian && uintptr(unsafe.Pointer(&b[0]))%uintptr(size) == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
	}
	return decode[T](b[:n*size])
}

func decode[T Scalar](b []byte) []T {
	var zero T
	out := make([]T, len(b)/int(unsafe.Sizeof(zero)))
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, out); err != nil {
		return nil
	}
	return out
}

func asBytes[T Scalar](values []T) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if littleEndian {
		return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*size)
	}
	var buf bytes.Buffer
	buf.Grow(len(values) * size)
	binary.Write(&buf, binary.LittleEndian, values)
	return buf.Bytes()
}
