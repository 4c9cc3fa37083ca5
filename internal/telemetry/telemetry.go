// Package telemetry tracks the scanner's supporting topics: odometry,
// battery, storage, driver status, project duration and keyframe images.
//
// State is fed by pipeline.TopicHandler values so the supporting
// subscriptions attach and detach together with the point cloud.
package telemetry

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/pipeline"
	"github.com/banshee-data/lidar.console/internal/units"
)

// Default supporting topics.
const (
	TopicOdometry        = "/Odometry"
	TopicBattery         = "/battery"
	TopicStorage         = "/storage"
	TopicDriverStatus    = "/driver_status"
	TopicProjectDuration = "/project_duration"
	TopicKeyframe        = "/keyframe"
)

// DefaultMaxTrajectory bounds the recorded odometry path.
const DefaultMaxTrajectory = 10000

// Position is a point in the scanner's odometry frame.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation is a unit quaternion.
type Orientation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is the latest odometry reading.
type Pose struct {
	Position    Position    `json:"position"`
	Orientation Orientation `json:"orientation"`
	Stamp       time.Time   `json:"stamp"`
	FrameID     string      `json:"frame_id,omitempty"`
	// SpeedMPS is the magnitude of the twist's linear velocity.
	SpeedMPS float64 `json:"speed_mps"`
}

// DriverStatus is the decoded /driver_status bitfield.
type DriverStatus struct {
	Raw    uint8 `json:"raw"`
	Lidar  bool  `json:"lidar"`
	Camera bool  `json:"camera"`
	SLAM   bool  `json:"slam"`
	SDCard bool  `json:"sd_card"`
}

// ParseDriverStatus splits the status byte into its driver bits.
func ParseDriverStatus(b uint8) DriverStatus {
	return DriverStatus{
		Raw:    b,
		Lidar:  b&(1<<0) != 0,
		Camera: b&(1<<1) != 0,
		SLAM:   b&(1<<2) != 0,
		SDCard: b&(1<<3) != 0,
	}
}

// Keyframe is the most recent camera keyframe.
type Keyframe struct {
	Format string    `json:"format"`
	Data   []byte    `json:"-"`
	Size   int       `json:"size"`
	Stamp  time.Time `json:"stamp"`
}

// Snapshot is a copy of the telemetry state.
type Snapshot struct {
	Pose            *Pose        `json:"pose,omitempty"`
	TrajectoryLen   int          `json:"trajectory_length"`
	Battery         *Battery     `json:"battery,omitempty"`
	Storage         string       `json:"storage,omitempty"`
	DriverStatus    DriverStatus `json:"driver_status"`
	ProjectDuration string       `json:"project_duration,omitempty"`
	Keyframe        *Keyframe    `json:"keyframe,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// State holds the latest value of every supporting topic.
type State struct {
	maxTrajectory int
	now           func() time.Time

	mu           sync.RWMutex
	pose         *Pose
	trajectory   []Position
	battery      *Battery
	storage      string
	driverStatus DriverStatus
	duration     *time.Duration
	keyframe     *Keyframe
	updatedAt    time.Time
}

// NewState returns an empty State keeping at most maxTrajectory positions.
func NewState(maxTrajectory int) *State {
	if maxTrajectory <= 0 {
		maxTrajectory = DefaultMaxTrajectory
	}
	return &State{maxTrajectory: maxTrajectory, now: time.Now}
}

// Handlers returns the supporting subscriptions feeding s.
func (s *State) Handlers() []pipeline.TopicHandler {
	return []pipeline.TopicHandler{
		{Topic: TopicOdometry, Type: "nav_msgs/Odometry", Handle: s.handleOdometry, Reset: s.resetOdometry},
		{Topic: TopicBattery, Type: "sensor_msgs/BatteryState", Handle: s.handleBattery},
		{Topic: TopicStorage, Type: "std_msgs/String", Handle: s.handleStorage},
		{Topic: TopicDriverStatus, Type: "std_msgs/UInt8", Handle: s.handleDriverStatus},
		{Topic: TopicProjectDuration, Type: "std_msgs/Float64", Handle: s.handleDuration},
		{Topic: TopicKeyframe, Type: "sensor_msgs/CompressedImage", Handle: s.handleKeyframe},
	}
}

func (s *State) handleOdometry(d pipeline.Decoder) error {
	var msg odometryMsg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode odometry: %w", err)
	}
	p := msg.Pose.Pose
	v := msg.Twist.Twist.Linear
	pose := &Pose{
		Position:    Position{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Orientation: Orientation{X: p.Orientation.X, Y: p.Orientation.Y, Z: p.Orientation.Z, W: p.Orientation.W},
		Stamp:       msg.Header.Stamp.Time(),
		FrameID:     msg.Header.FrameID,
		SpeedMPS:    units.Magnitude(v.X, v.Y, v.Z),
	}
	s.UpdatePose(*pose)
	return nil
}

// UpdatePose records a pose and extends the trajectory, dropping the oldest
// position once the trajectory is full.
func (s *State) UpdatePose(p Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = &p
	s.trajectory = append(s.trajectory, p.Position)
	if over := len(s.trajectory) - s.maxTrajectory; over > 0 {
		s.trajectory = append(s.trajectory[:0], s.trajectory[over:]...)
	}
	s.updatedAt = s.now()
}

func (s *State) resetOdometry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = nil
	s.trajectory = nil
}

func (s *State) handleBattery(d pipeline.Decoder) error {
	var msg batteryStateMsg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode battery: %w", err)
	}
	b := NewBattery(msg.Percentage)
	b.Voltage = msg.Voltage
	s.mu.Lock()
	s.battery = &b
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *State) handleStorage(d pipeline.Decoder) error {
	var msg stringMsg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode storage: %w", err)
	}
	s.mu.Lock()
	s.storage = msg.Data
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *State) handleDriverStatus(d pipeline.Decoder) error {
	var msg uint8Msg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode driver status: %w", err)
	}
	s.mu.Lock()
	s.driverStatus = ParseDriverStatus(msg.Data)
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *State) handleDuration(d pipeline.Decoder) error {
	var msg float64Msg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode project duration: %w", err)
	}
	if math.IsNaN(msg.Data) || msg.Data < 0 {
		return fmt.Errorf("invalid project duration %v", msg.Data)
	}
	dur := time.Duration(msg.Data * float64(time.Second))
	s.mu.Lock()
	s.duration = &dur
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

func (s *State) handleKeyframe(d pipeline.Decoder) error {
	var msg compressedImageMsg
	if err := d.Decode(&msg); err != nil {
		return fmt.Errorf("decode keyframe: %w", err)
	}
	s.mu.Lock()
	s.keyframe = &Keyframe{
		Format: msg.Format,
		Data:   msg.Data,
		Size:   len(msg.Data),
		Stamp:  msg.Header.Stamp.Time(),
	}
	s.updatedAt = s.now()
	s.mu.Unlock()
	return nil
}

// Trajectory returns a copy of the recorded positions, oldest first.
func (s *State) Trajectory() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, len(s.trajectory))
	copy(out, s.trajectory)
	return out
}

// Keyframe returns the latest keyframe, or nil if none has arrived.
func (s *State) Keyframe() *Keyframe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keyframe == nil {
		return nil
	}
	k := *s.keyframe
	return &k
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		TrajectoryLen: len(s.trajectory),
		Storage:       s.storage,
		DriverStatus:  s.driverStatus,
		UpdatedAt:     s.updatedAt,
	}
	if s.pose != nil {
		p := *s.pose
		snap.Pose = &p
	}
	if s.battery != nil {
		b := *s.battery
		snap.Battery = &b
	}
	if s.duration != nil {
		snap.ProjectDuration = FormatDuration(*s.duration)
	}
	if s.keyframe != nil {
		k := *s.keyframe
		snap.Keyframe = &k
	}
	return snap
}

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// Time converts a ROS1 or ROS2 header stamp. A zero stamp gives the zero time.
func (s stamp) Time() time.Time {
	sec, nsec := s.Sec, s.Nanosec
	if sec == 0 && nsec == 0 {
		sec, nsec = s.Secs, s.Nsecs
	}
	if sec == 0 && nsec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, int64(nsec)).UTC()
}
