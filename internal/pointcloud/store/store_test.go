package store

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seq returns n points whose coordinates are start, start+1, ... so that
// eviction order is visible in the snapshot.
func seq(start, n int) []float32 {
	out := make([]float32, 0, 3*n)
	for i := 0; i < n; i++ {
		v := float32(start + i)
		out = append(out, v, v, v)
	}
	return out
}

func TestStore_AppendWithinCapacity(t *testing.T) {
	s := New(10)
	evicted := s.Append(seq(0, 4), nil)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, 4, s.Len())

	snap := s.Snapshot()
	if diff := cmp.Diff(seq(0, 4), snap.Points); diff != "" {
		t.Errorf("points mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, snap.Colors)
}

func TestStore_BoundedContentEquality(t *testing.T) {
	const maxPoints = 7
	s := New(maxPoints)

	var all []float32
	next := 0
	for _, n := range []int{3, 5, 1, 9, 2, 6} {
		s.Append(seq(next, n), nil)
		all = append(all, seq(next, n)...)
		next += n

		want := all
		if len(want) > 3*maxPoints {
			want = want[len(want)-3*maxPoints:]
		}
		got := s.Snapshot().Points
		require.LessOrEqual(t, len(got), 3*maxPoints)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("after %d points (-want +got):\n%s", next, diff)
		}
	}
}

func TestStore_EvictionCountsWholePoints(t *testing.T) {
	s := New(5)
	s.Append(seq(0, 4), nil)
	assert.Equal(t, 2, s.Append(seq(4, 3), nil))
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, uint64(2), s.Evicted())
}

func TestStore_FrameLargerThanCapacity(t *testing.T) {
	s := New(3)
	colors := make([]float32, 0, 30)
	for i := 0; i < 10; i++ {
		colors = append(colors, float32(i)/10, 0, 0)
	}
	s.Append(seq(0, 10), colors)

	snap := s.Snapshot()
	assert.Equal(t, seq(7, 3), snap.Points)
	assert.Equal(t, colors[21:], snap.Colors)
}

func TestStore_ColorsStayAligned(t *testing.T) {
	s := New(4)
	red := []float32{1, 0, 0, 1, 0, 0}
	s.Append(seq(0, 2), red)
	s.Append(seq(2, 3), []float32{0, 1, 0}) // one colour for three points
	s.Append(seq(5, 1), nil)

	snap := s.Snapshot()
	require.Len(t, snap.Colors, len(snap.Points))
	want := []float32{
		0, 1, 0, // point 2
		1, 1, 1, // point 3 padded
		1, 1, 1, // point 4 padded
		1, 1, 1, // point 5 uncoloured frame
	}
	assert.Equal(t, seq(2, 4), snap.Points)
	if diff := cmp.Diff(want, snap.Colors); diff != "" {
		t.Errorf("colors mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_BackfillOnFirstColouredFrame(t *testing.T) {
	s := New(10)
	s.Append(seq(0, 2), nil)
	s.Append(seq(2, 1), []float32{0, 0, 1})

	snap := s.Snapshot()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 0, 0, 1}, snap.Colors)
}

func TestStore_SurplusColoursDiscarded(t *testing.T) {
	s := New(10)
	s.Append(seq(0, 1), []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, s.Snapshot().Colors)
}

func TestStore_PartialTripleIgnored(t *testing.T) {
	s := New(10)
	s.Append([]float32{1, 2, 3, 4, 5}, nil)
	assert.Equal(t, []float32{1, 2, 3}, s.Snapshot().Points)
	assert.Equal(t, 0, s.Append([]float32{1, 2}, nil))
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := New(10)
	s.Append(seq(0, 2), nil)
	snap := s.Snapshot()
	snap.Points[0] = 99

	assert.Equal(t, float32(0), s.Snapshot().Points[0])
}

func TestStore_Clear(t *testing.T) {
	s := New(10)
	s.Append(seq(0, 2), []float32{1, 0, 0, 0, 1, 0})
	v := s.Version()
	s.Clear()

	snap := s.Snapshot()
	assert.Empty(t, snap.Points)
	assert.Empty(t, snap.Colors)
	assert.Greater(t, s.Version(), v)

	s.Append(seq(5, 1), nil)
	assert.Empty(t, s.Snapshot().Colors, "colour mode resets with the window")
}

func TestStore_ZeroCapacity(t *testing.T) {
	s := New(0)
	s.Append(seq(0, 3), nil)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Snapshot().Points)
}

func TestStore_ConcurrentAppendAndSnapshot(t *testing.T) {
	s := New(100)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Append(seq(i, 7), nil)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		snap := s.Snapshot()
		if len(snap.Points)%3 != 0 || len(snap.Points) > 300 {
			t.Fatalf("snapshot length %d breaks alignment or capacity", len(snap.Points))
		}
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len())
}
