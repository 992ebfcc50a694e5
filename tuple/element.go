// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package tuple implements an order-preserving byte encoding of
// heterogeneous typed elements, and the Subspace helper built on top of it.
//
// The encoding follows the same idea as FoundationDB's tuple layer: each
// element is prefixed with a type tag so that elements of different Go
// types still compare meaningfully by byte order, and within a type the
// payload bytes are transformed (sign flips, bit flips, nul-escaping) so
// that lexicographic byte order equals the logical order of the value.
package tuple

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Tuple is an ordered sequence of typed elements. A Tuple built from the
// same logical values always packs to the same bytes (Pack is
// deterministic), and two Tuples compare in byte order exactly as their
// logical values compare element-by-element.
type Tuple []any

const (
	tagNil    byte = 0x01
	tagBytes  byte = 0x02
	tagString byte = 0x03
	tagNested byte = 0x05
	tagInt    byte = 0x0c
	tagFloat  byte = 0x20
	tagFalse  byte = 0x26
	tagTrue   byte = 0x27

	nestedEnd byte = 0x00
	escNul    byte = 0x00
	escFF     byte = 0xff
)

// Pack encodes t to its order-preserving byte representation.
func Pack(t Tuple) []byte {
	var buf bytes.Buffer
	for _, el := range t {
		appendElement(&buf, el)
	}
	return buf.Bytes()
}

func appendElement(buf *bytes.Buffer, el any) {
	switch v := el.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case []byte:
		buf.WriteByte(tagBytes)
		writeEscaped(buf, v)
		buf.WriteByte(escNul)
	case string:
		buf.WriteByte(tagString)
		writeEscaped(buf, []byte(v))
		buf.WriteByte(escNul)
	case bool:
		if v {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		appendElement(buf, int64(v))
	case int32:
		appendElement(buf, int64(v))
	case int64:
		buf.WriteByte(tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
		buf.Write(b[:])
	case uint32:
		appendElement(buf, uint64(v))
	case uint64:
		buf.WriteByte(tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v^(1<<63))
		buf.Write(b[:])
	case float32:
		appendElement(buf, float64(v))
	case float64:
		buf.WriteByte(tagFloat)
		bits := math.Float64bits(v)
		if v >= 0 {
			bits |= 1 << 63
		} else {
			bits = ^bits
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		buf.Write(b[:])
	case Tuple:
		buf.WriteByte(tagNested)
		for _, inner := range v {
			appendElement(buf, inner)
		}
		buf.WriteByte(nestedEnd)
	default:
		panic(fmt.Sprintf("tuple: unsupported element type %T", el))
	}
}

// writeEscaped writes b with every 0x00 byte escaped to 0x00 0xFF, so the
// single trailing 0x00 unambiguously terminates the field.
func writeEscaped(buf *bytes.Buffer, b []byte) {
	for _, c := range b {
		buf.WriteByte(c)
		if c == escNul {
			buf.WriteByte(escFF)
		}
	}
}

// Unpack decodes b produced by Pack back into a Tuple. It is the inverse of
// Pack for any byte slice actually produced by Pack.
func Unpack(b []byte) (Tuple, error) {
	var out Tuple
	for len(b) > 0 {
		tag := b[0]
		rest := b[1:]
		switch tag {
		case tagNil:
			out = append(out, nil)
			b = rest
		case tagFalse:
			out = append(out, false)
			b = rest
		case tagTrue:
			out = append(out, true)
			b = rest
		case tagBytes, tagString:
			payload, n, err := readEscaped(rest)
			if err != nil {
				return nil, err
			}
			if tag == tagBytes {
				out = append(out, payload)
			} else {
				out = append(out, string(payload))
			}
			b = rest[n:]
		case tagInt:
			if len(rest) < 8 {
				return nil, fmt.Errorf("tuple: truncated int at offset %d", len(b))
			}
			u := binary.BigEndian.Uint64(rest[:8])
			out = append(out, int64(u^(1<<63)))
			b = rest[8:]
		case tagFloat:
			if len(rest) < 8 {
				return nil, fmt.Errorf("tuple: truncated float at offset %d", len(b))
			}
			bits := binary.BigEndian.Uint64(rest[:8])
			if bits&(1<<63) != 0 {
				bits &^= 1 << 63
			} else {
				bits = ^bits
			}
			out = append(out, math.Float64frombits(bits))
			b = rest[8:]
		case tagNested:
			inner, n, err := readNested(rest)
			if err != nil {
				return nil, err
			}
			out = append(out, inner)
			b = rest[n:]
		default:
			return nil, fmt.Errorf("tuple: unknown tag byte 0x%02x", tag)
		}
	}
	return out, nil
}

// readEscaped reads an escaped field and returns the decoded payload plus
// the number of consumed bytes from b (including the terminator).
func readEscaped(b []byte) ([]byte, int, error) {
	var out []byte
	i := 0
	for i < len(b) {
		c := b[i]
		if c == escNul {
			if i+1 < len(b) && b[i+1] == escFF {
				out = append(out, escNul)
				i += 2
				continue
			}
			return out, i + 1, nil
		}
		out = append(out, c)
		i++
	}
	return nil, 0, fmt.Errorf("tuple: unterminated string/bytes field")
}

func readNested(b []byte) (Tuple, int, error) {
	// Find the matching unescaped terminator by decoding one element at a
	// time, the same way Unpack does for a top-level tuple.
	var out Tuple
	i := 0
	for {
		if i >= len(b) {
			return nil, 0, fmt.Errorf("tuple: unterminated nested tuple")
		}
		if b[i] == nestedEnd {
			return out, i + 1, nil
		}
		sub, n, err := unpackOne(b[i:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sub)
		i += n
	}
}

// unpackOne decodes exactly one element from the front of b and returns it
// with the number of bytes consumed.
func unpackOne(b []byte) (any, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("tuple: empty element")
	}
	tag := b[0]
	rest := b[1:]
	switch tag {
	case tagNil:
		return nil, 1, nil
	case tagFalse:
		return false, 1, nil
	case tagTrue:
		return true, 1, nil
	case tagBytes, tagString:
		payload, n, err := readEscaped(rest)
		if err != nil {
			return nil, 0, err
		}
		if tag == tagBytes {
			return payload, 1 + n, nil
		}
		return string(payload), 1 + n, nil
	case tagInt:
		if len(rest) < 8 {
			return nil, 0, fmt.Errorf("tuple: truncated int")
		}
		u := binary.BigEndian.Uint64(rest[:8])
		return int64(u ^ (1 << 63)), 9, nil
	case tagFloat:
		if len(rest) < 8 {
			return nil, 0, fmt.Errorf("tuple: truncated float")
		}
		bits := binary.BigEndian.Uint64(rest[:8])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), 9, nil
	case tagNested:
		inner, n, err := readNested(rest)
		if err != nil {
			return nil, 0, err
		}
		return inner, 1 + n, nil
	default:
		return nil, 0, fmt.Errorf("tuple: unknown tag byte 0x%02x", tag)
	}
}

// Compare reports the byte-order relationship of two packed tuples, which
// equals the logical ordering of the tuples they were packed from.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Successor returns the lexicographically smallest byte string strictly
// greater than k, by appending a single 0x00 byte (spec glossary:
// "Successor of key k").
func Successor(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
}
