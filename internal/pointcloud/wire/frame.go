// Package wire holds the PointCloud2 frame model and the decoder that turns a
// raw frame into flat position and colour arrays ready for rendering.
package wire

import "fmt"

// Datatype is the PointField datatype code carried by each field descriptor.
type Datatype uint8

// PointField datatype codes. Only Float32 is read by the decoder; the packed
// rgb field is also published with code 7 and reinterpreted as a uint32.
const (
	Int8    Datatype = 1
	Uint8   Datatype = 2
	Int16   Datatype = 3
	Uint16  Datatype = 4
	Int32   Datatype = 5
	Uint32  Datatype = 6
	Float32 Datatype = 7
	Float64 Datatype = 8
)

// Field names the decoder understands.
const (
	FieldX         = "x"
	FieldY         = "y"
	FieldZ         = "z"
	FieldRGB       = "rgb"
	FieldIntensity = "intensity"
)

// Field describes one named value within every point record.
type Field struct {
	Name     string   `json:"name" cbor:"name"`
	Offset   uint32   `json:"offset" cbor:"offset"`
	Datatype Datatype `json:"datatype" cbor:"datatype"`
	Count    uint32   `json:"count" cbor:"count"`
}

// RawFrame is a PointCloud2 message as delivered by the transport. Only Width
// points are decoded; Height and RowStep are carried for completeness.
type RawFrame struct {
	Height      uint32  `json:"height" cbor:"height"`
	Width       uint32  `json:"width" cbor:"width"`
	Fields      []Field `json:"fields" cbor:"fields"`
	IsBigEndian bool    `json:"is_bigendian" cbor:"is_bigendian"`
	PointStep   uint32  `json:"point_step" cbor:"point_step"`
	RowStep     uint32  `json:"row_step" cbor:"row_step"`
	Data        []byte  `json:"data" cbor:"data"`
	IsDense     bool    `json:"is_dense" cbor:"is_dense"`
}

// DecodedFrame is the flat output of Decode. Points holds x,y,z triples in
// source order. Colors is either empty or holds r,g,b triples in [0,1].
type DecodedFrame struct {
	Points []float32
	Colors []float32

	pooled bool
}

// PointCount returns the number of xyz triples in the frame.
func (f DecodedFrame) PointCount() int {
	return len(f.Points) / 3
}

// ColorCount returns the number of rgb triples in the frame.
func (f DecodedFrame) ColorCount() int {
	return len(f.Colors) / 3
}

// DecodeError reports a structurally malformed frame. Index is the first
// point whose field read or record would run past the payload, or -1 when the
// frame header itself is inconsistent.
type DecodeError struct {
	Index  int
	Field  string
	Offset uint64
	Need   uint64
	Have   uint64
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode pointcloud: %s", e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("decode pointcloud: point %d record at byte %d needs %d bytes, %d remain",
			e.Index, e.Offset, e.Need, e.Have)
	}
	return fmt.Sprintf("decode pointcloud: point %d field %q at byte %d needs %d bytes, payload has %d",
		e.Index, e.Field, e.Offset, e.Need, e.Have)
}
