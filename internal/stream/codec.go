package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Packed snapshot layout, little endian:
//
//	magic   [4]byte "PCS1"
//	version uint64
//	points  uint32  number of xyz triples
//	colors  uint32  number of rgb triples
//	data    float32 x (3*points + 3*colors)
const (
	magic      = "PCS1"
	headerSize = 4 + 8 + 4 + 4
)

// ErrBadSnapshot is returned by Unpack for truncated or foreign payloads.
var ErrBadSnapshot = errors.New("malformed packed snapshot")

// Snapshot is one streamed point window.
type Snapshot struct {
	Version uint64
	Points  []float32
	Colors  []float32
}

// PointCount returns the number of xyz triples.
func (s Snapshot) PointCount() int { return len(s.Points) / 3 }

// Limit returns s restricted to its newest maxPoints points. Zero means no
// limit.
func (s Snapshot) Limit(maxPoints int) Snapshot {
	n := s.PointCount()
	if maxPoints <= 0 || n <= maxPoints {
		return s
	}
	skip := n - maxPoints
	out := Snapshot{Version: s.Version, Points: s.Points[3*skip:]}
	if len(s.Colors) >= 3*n {
		out.Colors = s.Colors[3*skip : 3*n]
	}
	return out
}

// Pack encodes s.
func Pack(s Snapshot) []byte {
	np := len(s.Points) / 3
	nc := len(s.Colors) / 3
	buf := make([]byte, headerSize+4*3*(np+nc))

	copy(buf, magic)
	binary.LittleEndian.PutUint64(buf[4:], s.Version)
	binary.LittleEndian.PutUint32(buf[12:], uint32(np))
	binary.LittleEndian.PutUint32(buf[16:], uint32(nc))

	off := headerSize
	for _, v := range s.Points[:3*np] {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	for _, v := range s.Colors[:3*nc] {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	return buf
}

// Unpack decodes a payload produced by Pack.
func Unpack(buf []byte) (Snapshot, error) {
	if len(buf) < headerSize || string(buf[:4]) != magic {
		return Snapshot{}, ErrBadSnapshot
	}
	version := binary.LittleEndian.Uint64(buf[4:])
	np := int(binary.LittleEndian.Uint32(buf[12:]))
	nc := int(binary.LittleEndian.Uint32(buf[16:]))
	if want := headerSize + 12*(np+nc); len(buf) != want {
		return Snapshot{}, fmt.Errorf("%w: %d bytes, want %d", ErrBadSnapshot, len(buf), want)
	}

	s := Snapshot{Version: version, Points: make([]float32, 3*np)}
	off := headerSize
	for i := range s.Points {
		s.Points[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	if nc > 0 {
		s.Colors = make([]float32, 3*nc)
		for i := range s.Colors {
			s.Colors[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	return s, nil
}
