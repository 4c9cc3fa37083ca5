package pipeline

import (
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/decode"
)

// Stats observes the point cloud pipeline. Implementations must be safe for
// concurrent use and must not call back into the pipeline.
type Stats interface {
	decode.Recorder
	FrameReceived()
	FrameMalformed(err error)
	PointsEvicted(n int)
	RenderTick(delta time.Duration)
	FramePresented(points int)
}

type noopStats struct{}

func (noopStats) Decoded(decode.Path, int, time.Duration) {}
func (noopStats) DecodeFailed(decode.Path, error)         {}
func (noopStats) Dropped()                                {}
func (noopStats) StateChanged(decode.State)               {}
func (noopStats) FrameReceived()                          {}
func (noopStats) FrameMalformed(error)                    {}
func (noopStats) PointsEvicted(int)                       {}
func (noopStats) RenderTick(time.Duration)                {}
func (noopStats) FramePresented(int)                      {}
