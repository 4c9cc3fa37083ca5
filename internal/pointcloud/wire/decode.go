package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// layout is the resolved set of byte offsets the decoder reads per point.
type layout struct {
	x, y, z      Field
	rgb          *Field
	intensity    *Field
	hasIntensity bool
}

// Decode converts a PointCloud2 frame into flat position and colour arrays.
//
// Fields whose datatype is not Float32 are ignored, as are unknown names.
// When the frame carries an rgb field it is used for colour and intensity is
// not read; otherwise intensity is mapped through the jet colormap. A frame
// with neither yields an empty Colors slice.
func Decode(frame *RawFrame) (DecodedFrame, error) {
	if frame == nil {
		return DecodedFrame{}, &DecodeError{Index: -1, Reason: "nil frame"}
	}
	n := int(frame.Width)
	if n == 0 {
		return DecodedFrame{}, nil
	}

	lay, err := resolveLayout(frame.Fields)
	if err != nil {
		return DecodedFrame{}, err
	}
	if err := checkBounds(frame, lay); err != nil {
		return DecodedFrame{}, err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if frame.IsBigEndian {
		order = binary.BigEndian
	}

	out := DecodedFrame{Points: getFloat32Slice(3 * n), pooled: true}
	coloured := lay.rgb != nil || lay.intensity != nil
	if coloured {
		out.Colors = getFloat32Slice(3 * n)
	}

	data := frame.Data
	step := uint64(frame.PointStep)
	for i := 0; i < n; i++ {
		base := uint64(i) * step
		out.Points[3*i] = readFloat32(order, data, base+uint64(lay.x.Offset))
		out.Points[3*i+1] = readFloat32(order, data, base+uint64(lay.y.Offset))
		out.Points[3*i+2] = readFloat32(order, data, base+uint64(lay.z.Offset))

		switch {
		case lay.rgb != nil:
			packed := order.Uint32(data[base+uint64(lay.rgb.Offset):])
			r, g, b := UnpackRGB(packed)
			out.Colors[3*i], out.Colors[3*i+1], out.Colors[3*i+2] = r, g, b
		case lay.intensity != nil:
			v := readFloat32(order, data, base+uint64(lay.intensity.Offset))
			r, g, b := Jet(NormalizeIntensity(v))
			out.Colors[3*i], out.Colors[3*i+1], out.Colors[3*i+2] = r, g, b
		}
	}
	return out, nil
}

func resolveLayout(fields []Field) (layout, error) {
	var lay layout
	var seenX, seenY, seenZ bool
	for i := range fields {
		f := fields[i]
		if f.Datatype != Float32 {
			continue
		}
		switch f.Name {
		case FieldX:
			if !seenX {
				lay.x, seenX = f, true
			}
		case FieldY:
			if !seenY {
				lay.y, seenY = f, true
			}
		case FieldZ:
			if !seenZ {
				lay.z, seenZ = f, true
			}
		case FieldRGB:
			if lay.rgb == nil {
				lay.rgb = &fields[i]
			}
		case FieldIntensity:
			if lay.intensity == nil {
				lay.intensity = &fields[i]
			}
		}
	}
	for _, req := range []struct {
		name string
		ok   bool
	}{{FieldX, seenX}, {FieldY, seenY}, {FieldZ, seenZ}} {
		if !req.ok {
			return layout{}, &DecodeError{Index: -1, Field: req.name, Reason: fmt.Sprintf("missing float32 field %q", req.name)}
		}
	}
	// rgb takes precedence for the whole frame.
	if lay.rgb != nil {
		lay.intensity = nil
	}
	return lay, nil
}

// checkBounds verifies every field read stays inside the payload, that the
// point step covers the fields, and that the payload holds Width whole
// records. Offsets grow with the point index so the first failing index can
// be computed directly.
func checkBounds(frame *RawFrame, lay layout) error {
	have := uint64(len(frame.Data))
	step := uint64(frame.PointStep)
	last := uint64(frame.Width) - 1

	fields := []Field{lay.x, lay.y, lay.z}
	if lay.rgb != nil {
		fields = append(fields, *lay.rgb)
	}
	if lay.intensity != nil {
		fields = append(fields, *lay.intensity)
	}

	bad := -1
	var badField Field
	for _, f := range fields {
		off := uint64(f.Offset)
		if last*step+off+4 <= have {
			continue
		}
		idx := uint64(0)
		if off+4 <= have && step > 0 {
			idx = (have-off-4)/step + 1
		}
		if bad < 0 || int(idx) < bad {
			bad, badField = int(idx), f
		}
	}
	if bad >= 0 {
		return &DecodeError{
			Index:  bad,
			Field:  badField.Name,
			Offset: uint64(bad)*step + uint64(badField.Offset),
			Need:   4,
			Have:   have,
		}
	}

	// The point step must cover every field read.
	var span uint64
	for _, f := range fields {
		if end := uint64(f.Offset) + 4; end > span {
			span = end
		}
	}
	if step < span {
		return &DecodeError{
			Index:  -1,
			Field:  fieldEndingAt(fields, span),
			Need:   span,
			Have:   step,
			Reason: fmt.Sprintf("point_step %d is shorter than the %d byte field layout", step, span),
		}
	}

	if need := uint64(frame.Width) * step; have < need {
		idx := have / step
		return &DecodeError{
			Index:  int(idx),
			Offset: idx * step,
			Need:   step,
			Have:   have - idx*step,
			Reason: fmt.Sprintf("payload has %d bytes, width*point_step is %d", have, need),
		}
	}
	return nil
}

func fieldEndingAt(fields []Field, end uint64) string {
	for _, f := range fields {
		if uint64(f.Offset)+4 == end {
			return f.Name
		}
	}
	return ""
}

func readFloat32(order binary.ByteOrder, data []byte, off uint64) float32 {
	return math.Float32frombits(order.Uint32(data[off:]))
}

// UnpackRGB splits a packed 0x00RRGGBB value into channels scaled to [0,1].
func UnpackRGB(packed uint32) (r, g, b float32) {
	r = float32((packed>>16)&0xff) / 255
	g = float32((packed>>8)&0xff) / 255
	b = float32(packed&0xff) / 255
	return r, g, b
}

// NormalizeIntensity scales a raw intensity reading into [0,1].
func NormalizeIntensity(v float32) float64 {
	t := float64(v) / 255
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Jet maps t in [0,1] onto the blue-cyan-yellow-red jet colormap.
func Jet(t float64) (r, g, b float32) {
	r = float32(clamp01(math.Min(4*t-1.5, -4*t+4.5)))
	g = float32(clamp01(math.Min(4*t-0.5, -4*t+3.5)))
	b = float32(clamp01(math.Min(4*t+0.5, -4*t+2.5)))
	return r, g, b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
