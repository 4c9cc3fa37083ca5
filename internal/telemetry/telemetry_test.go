package telemetry

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/rosbridge"
)

func handlerFor(t *testing.T, s *State, topic string) pipeline.TopicHandler {
	t.Helper()
	for _, h := range s.Handlers() {
		if h.Topic == topic {
			return h
		}
	}
	t.Fatalf("no handler for %s", topic)
	return pipeline.TopicHandler{}
}

func jsonMsg(topic, payload string) rosbridge.Message {
	return rosbridge.NewJSONMessage(topic, []byte(payload))
}

func TestOdometry(t *testing.T) {
	s := NewState(0)
	h := handlerFor(t, s, TopicOdometry)

	err := h.Handle(jsonMsg(TopicOdometry, `{
		"header": {"stamp": {"sec": 1700000000, "nanosec": 500}, "frame_id": "odom"},
		"pose": {"pose": {
			"position": {"x": 1.5, "y": -2, "z": 0.25},
			"orientation": {"x": 0, "y": 0, "z": 0, "w": 1}
		}},
		"twist": {"twist": {"linear": {"x": 0.6, "y": 0.8, "z": 0}}}
	}`))
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NotNil(t, snap.Pose)
	assert.Equal(t, Position{X: 1.5, Y: -2, Z: 0.25}, snap.Pose.Position)
	assert.Equal(t, 1.0, snap.Pose.Orientation.W)
	assert.Equal(t, "odom", snap.Pose.FrameID)
	assert.InDelta(t, 1.0, snap.Pose.SpeedMPS, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 500).UTC(), snap.Pose.Stamp)
	assert.Equal(t, 1, snap.TrajectoryLen)
}

func TestOdometryROS1Stamp(t *testing.T) {
	s := NewState(0)
	h := handlerFor(t, s, TopicOdometry)
	require.NoError(t, h.Handle(jsonMsg(TopicOdometry,
		`{"header": {"stamp": {"secs": 42, "nsecs": 7}}, "pose": {"pose": {"position": {"x": 1}}}}`)))
	assert.Equal(t, time.Unix(42, 7).UTC(), s.Snapshot().Pose.Stamp)
}

func TestTrajectoryDropsOldest(t *testing.T) {
	s := NewState(3)
	for i := 0; i < 5; i++ {
		s.UpdatePose(Pose{Position: Position{X: float64(i)}})
	}
	want := []Position{{X: 2}, {X: 3}, {X: 4}}
	if diff := cmp.Diff(want, s.Trajectory()); diff != "" {
		t.Errorf("trajectory mismatch (-want +got):\n%s", diff)
	}
}

func TestResetClearsOdometryOnly(t *testing.T) {
	s := NewState(0)
	s.UpdatePose(Pose{Position: Position{X: 1}})
	require.NoError(t, handlerFor(t, s, TopicStorage).Handle(jsonMsg(TopicStorage, `{"data": "12.3G/64G"}`)))

	h := handlerFor(t, s, TopicOdometry)
	require.NotNil(t, h.Reset)
	h.Reset()

	snap := s.Snapshot()
	assert.Nil(t, snap.Pose)
	assert.Zero(t, snap.TrajectoryLen)
	assert.Equal(t, "12.3G/64G", snap.Storage)
}

func TestBattery(t *testing.T) {
	s := NewState(0)
	h := handlerFor(t, s, TopicBattery)
	require.NoError(t, h.Handle(jsonMsg(TopicBattery, `{"percentage": 18.6, "voltage": 11.9}`)))

	b := s.Snapshot().Battery
	require.NotNil(t, b)
	assert.Equal(t, Battery{Percent: 19, Voltage: 11.9, Level: BatteryQuarter, Color: BatteryWarning}, *b)
}

func TestBatteryBuckets(t *testing.T) {
	tests := []struct {
		in    float64
		level BatteryLevel
		color BatteryColor
	}{
		{100, BatteryFull, BatteryOK},
		{88, BatteryFull, BatteryOK},
		{87, BatteryThreeQuarter, BatteryOK},
		{63, BatteryThreeQuarter, BatteryOK},
		{62, BatteryHalf, BatteryOK},
		{38, BatteryHalf, BatteryOK},
		{37, BatteryQuarter, BatteryOK},
		{21, BatteryQuarter, BatteryOK},
		{20, BatteryQuarter, BatteryWarning},
		{13, BatteryQuarter, BatteryWarning},
		{12, BatteryEmpty, BatteryWarning},
		{11, BatteryEmpty, BatteryWarning},
		{10, BatteryEmpty, BatteryCritical},
		{0, BatteryEmpty, BatteryCritical},
		{-5, BatteryEmpty, BatteryCritical},
		{140, BatteryFull, BatteryOK},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			b := NewBattery(tt.in)
			assert.Equal(t, tt.level, b.Level)
			assert.Equal(t, tt.color, b.Color)
			assert.GreaterOrEqual(t, b.Percent, 0)
			assert.LessOrEqual(t, b.Percent, 100)
		})
	}
}

func TestDriverStatus(t *testing.T) {
	s := NewState(0)
	h := handlerFor(t, s, TopicDriverStatus)
	require.NoError(t, h.Handle(jsonMsg(TopicDriverStatus, `{"data": 13}`)))

	assert.Equal(t, DriverStatus{Raw: 13, Lidar: true, Camera: false, SLAM: true, SDCard: true}, s.Snapshot().DriverStatus)
}

func TestProjectDuration(t *testing.T) {
	s := NewState(0)
	h := handlerFor(t, s, TopicProjectDuration)
	require.NoError(t, h.Handle(jsonMsg(TopicProjectDuration, `{"data": 3725.9}`)))
	assert.Equal(t, "01:02:05", s.Snapshot().ProjectDuration)

	assert.Error(t, h.Handle(jsonMsg(TopicProjectDuration, `{"data": -1}`)))
	assert.Equal(t, "01:02:05", s.Snapshot().ProjectDuration)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:00:59", FormatDuration(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "27:46:40", FormatDuration(100000*time.Second))
	assert.Equal(t, "00:00:00", FormatDuration(-time.Minute))
}

func TestKeyframe(t *testing.T) {
	s := NewState(0)
	assert.Nil(t, s.Keyframe())

	img := []byte{0xff, 0xd8, 0xff, 0xe0}
	h := handlerFor(t, s, TopicKeyframe)
	require.NoError(t, h.Handle(jsonMsg(TopicKeyframe,
		fmt.Sprintf(`{"format": "jpeg", "data": %q}`, base64.StdEncoding.EncodeToString(img)))))

	k := s.Keyframe()
	require.NotNil(t, k)
	assert.Equal(t, "jpeg", k.Format)
	assert.Equal(t, img, k.Data)
	assert.Equal(t, 4, s.Snapshot().Keyframe.Size)
}

func TestMalformedMessage(t *testing.T) {
	s := NewState(0)
	for _, h := range s.Handlers() {
		assert.Error(t, h.Handle(jsonMsg(h.Topic, `not json`)), h.Topic)
	}
	assert.Equal(t, Snapshot{}, s.Snapshot())
}
