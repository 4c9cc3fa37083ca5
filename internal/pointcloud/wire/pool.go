package wire

import "sync"

// floatSlicePool reuses decode output slices between frames. Sized for a
// typical 30k point scan (x,y,z triples).
var floatSlicePool = sync.Pool{
	New: func() interface{} {
		return make([]float32, 0, 90000)
	},
}

// maxPooledCap keeps very large one-off frames out of the pool.
const maxPooledCap = 3 * 1 << 20

func getFloat32Slice(n int) []float32 {
	s := floatSlicePool.Get().([]float32)
	if cap(s) < n {
		floatSlicePool.Put(s)
		return make([]float32, n)
	}
	return s[:n]
}

func putFloat32Slice(s []float32) {
	if cap(s) > 0 && cap(s) <= maxPooledCap {
		floatSlicePool.Put(s[:0]) //nolint:staticcheck
	}
}

// Release hands the frame's slices back to the decode pool. The frame must
// not be used afterwards. Frames built by hand are left alone.
func (f *DecodedFrame) Release() {
	if f == nil || !f.pooled {
		return
	}
	putFloat32Slice(f.Points)
	putFloat32Slice(f.Colors)
	f.Points, f.Colors, f.pooled = nil, nil, false
}
