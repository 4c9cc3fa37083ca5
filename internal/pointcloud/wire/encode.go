package wire

import (
	"encoding/binary"
	"math"
)

// ColorMode selects which colour field Encode writes after x,y,z.
type ColorMode int

const (
	ColorNone ColorMode = iota
	ColorRGB
	ColorIntensity
)

// Point is one source point used to build a frame.
type Point struct {
	X, Y, Z   float32
	RGB       uint32
	Intensity float32
}

// PackRGB packs 8-bit channels into the 0x00RRGGBB layout used by the rgb field.
func PackRGB(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// Encode lays points out as a PointCloud2 frame with a 16 byte point step:
// x,y,z at 0,4,8 and the optional colour field at 12.
func Encode(points []Point, mode ColorMode, bigEndian bool) *RawFrame {
	const step = 16
	fields := []Field{
		{Name: FieldX, Offset: 0, Datatype: Float32, Count: 1},
		{Name: FieldY, Offset: 4, Datatype: Float32, Count: 1},
		{Name: FieldZ, Offset: 8, Datatype: Float32, Count: 1},
	}
	switch mode {
	case ColorRGB:
		fields = append(fields, Field{Name: FieldRGB, Offset: 12, Datatype: Float32, Count: 1})
	case ColorIntensity:
		fields = append(fields, Field{Name: FieldIntensity, Offset: 12, Datatype: Float32, Count: 1})
	}

	var order binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		order = binary.BigEndian
	}
	data := make([]byte, step*len(points))
	for i, p := range points {
		b := data[i*step:]
		order.PutUint32(b[0:], math.Float32bits(p.X))
		order.PutUint32(b[4:], math.Float32bits(p.Y))
		order.PutUint32(b[8:], math.Float32bits(p.Z))
		switch mode {
		case ColorRGB:
			order.PutUint32(b[12:], p.RGB)
		case ColorIntensity:
			order.PutUint32(b[12:], math.Float32bits(p.Intensity))
		}
	}

	return &RawFrame{
		Height:      1,
		Width:       uint32(len(points)),
		Fields:      fields,
		IsBigEndian: bigEndian,
		PointStep:   step,
		RowStep:     uint32(step * len(points)),
		Data:        data,
		IsDense:     true,
	}
}
