package bfast

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Write encodes named buffers as a container. Buffers start on 64-byte
// boundaries.
func Write(w io.Writer, names []string, buffers [][]byte) error {
	if len(names) != len(buffers) {
		return fmt.Errorf("bfast: %d names for %d buffers", len(names), len(buffers))
	}
	for _, name := range names {
		if name == "" || strings.ContainsRune(name, 0) {
			return fmt.Errorf("bfast: invalid buffer name %q", name)
		}
	}

	var nameData []byte
	for _, name := range names {
		nameData = append(nameData, name...)
		nameData = append(nameData, 0)
	}
	all := append([][]byte{nameData}, buffers...)

	ranges := make([]Range, len(all))
	cursor := align(headerSize + int64(len(all))*rangeSize)
	dataStart := cursor
	for i, buf := range all {
		ranges[i] = Range{Start: cursor, End: cursor + int64(len(buf))}
		cursor = align(ranges[i].End)
	}

	header := Header{
		Magic:     Magic,
		DataStart: dataStart,
		DataEnd:   ranges[len(ranges)-1].End,
		NumArrays: int64(len(all)),
	}

	var out bytes.Buffer
	out.Grow(int(cursor))
	binary.Write(&out, binary.LittleEndian, header)
	binary.Write(&out, binary.LittleEndian, ranges)
	for i, buf := range all {
		out.Write(make([]byte, ranges[i].Start-int64(out.Len())))
		out.Write(buf)
	}
	_, err := w.Write(out.Bytes())
	return err
}

// Marshal is Write into a byte slice.
func Marshal(names []string, buffers [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, names, buffers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func align(n int64) int64 {
	if r := n % alignment; r != 0 {
		return n + alignment - r
	}
	return n
}
