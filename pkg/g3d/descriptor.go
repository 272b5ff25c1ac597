// Package g3d decodes and transforms G3D geometry: meshes, submeshes,
// instances and materials stored as parallel typed buffers.
package g3d

import (
	"strconv"
	"strings"
)

const descriptorTag = "g3d"

// Wildcard matches any value of a descriptor field.
const Wildcard = "*"

// Association is the part of the geometry an attribute is attached to.
type Association string

const (
	AssociationAll      Association = "all"
	AssociationVertex   Association = "vertex"
	AssociationCorner   Association = "corner"
	AssociationFace     Association = "face"
	AssociationInstance Association = "instance"
	AssociationMesh     Association = "mesh"
	AssociationSubmesh  Association = "submesh"
	AssociationMaterial Association = "material"
	AssociationShape    Association = "shape"
	AssociationAny      Association = Wildcard
)

// DataType is the scalar type of an attribute's values.
type DataType string

const (
	Uint8       DataType = "uint8"
	Int8        DataType = "int8"
	Uint16      DataType = "uint16"
	Int16       DataType = "int16"
	Uint32      DataType = "uint32"
	Int32       DataType = "int32"
	Uint64      DataType = "uint64"
	Int64       DataType = "int64"
	Float32     DataType = "float32"
	Float64     DataType = "float64"
	DataTypeAny DataType = Wildcard
)

// Size returns the width of one scalar in bytes, or 0 for unknown types.
func (d DataType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Is64Bit reports whether the type is a 64-bit integer.
func (d DataType) Is64Bit() bool {
	return d == Uint64 || d == Int64
}

// Descriptor identifies an attribute:
// g3d:<association>:<semantic>:<typeIndex>:<dataType>:<arity>.
type Descriptor struct {
	Association Association
	Semantic    string
	TypeIndex   string
	DataType    DataType
	Arity       int // 0 when the arity is the wildcard

	description string
}

// ParseDescriptor parses a colon-delimited attribute name.
func ParseDescriptor(s string) (Descriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Descriptor{}, &FormatError{Descriptor: s, Reason: "must have 6 components delimited by ':'"}
	}
	if parts[0] != descriptorTag {
		return Descriptor{}, &FormatError{Descriptor: s, Reason: "must start with 'g3d'"}
	}

	arity := 0
	if parts[5] != Wildcard {
		n, err := strconv.Atoi(parts[5])
		if err != nil || n <= 0 {
			return Descriptor{}, &FormatError{Descriptor: s, Reason: "arity must be a positive integer"}
		}
		arity = n
	}

	return Descriptor{
		Association: Association(parts[1]),
		Semantic:    parts[2],
		TypeIndex:   parts[3],
		DataType:    DataType(parts[4]),
		Arity:       arity,
		description: s,
	}, nil
}

// MustParseDescriptor is like ParseDescriptor but panics on error.
// Used for the package's canonical attribute names.
func MustParseDescriptor(s string) Descriptor {
	d, err := ParseDescriptor(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String returns the descriptor in its wire form.
func (d Descriptor) String() string {
	if d.description != "" {
		return d.description
	}
	arity := Wildcard
	if d.Arity > 0 {
		arity = strconv.Itoa(d.Arity)
	}
	return strings.Join([]string{
		descriptorTag,
		string(d.Association),
		d.Semantic,
		d.TypeIndex,
		string(d.DataType),
		arity,
	}, ":")
}

// Matches compares field by field; a wildcard on either side matches anything.
func (d Descriptor) Matches(other Descriptor) bool {
	return matchField(string(d.Association), string(other.Association)) &&
		matchField(d.Semantic, other.Semantic) &&
		matchField(d.TypeIndex, other.TypeIndex) &&
		matchField(string(d.DataType), string(other.DataType)) &&
		(d.Arity == 0 || other.Arity == 0 || d.Arity == other.Arity)
}

// ElementSize is the byte width of one element: scalar size times arity.
func (d Descriptor) ElementSize() int {
	arity := d.Arity
	if arity == 0 {
		arity = 1
	}
	return d.DataType.Size() * arity
}

func matchField(a, b string) bool {
	return a == Wildcard || b == Wildcard || a == b
}
