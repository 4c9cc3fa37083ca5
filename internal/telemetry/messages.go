package telemetry

// ROS message shapes for the supporting topics. Only the fields the console
// reads are declared.

type stamp struct {
	Sec     int64  `json:"sec" cbor:"sec"`
	Secs    int64  `json:"secs" cbor:"secs"`
	Nanosec uint32 `json:"nanosec" cbor:"nanosec"`
	Nsecs   uint32 `json:"nsecs" cbor:"nsecs"`
}

type header struct {
	Stamp   stamp  `json:"stamp" cbor:"stamp"`
	FrameID string `json:"frame_id" cbor:"frame_id"`
}

type vector3 struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	Z float64 `json:"z" cbor:"z"`
}

type quaternion struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	Z float64 `json:"z" cbor:"z"`
	W float64 `json:"w" cbor:"w"`
}

type odometryMsg struct {
	Header       header `json:"header" cbor:"header"`
	ChildFrameID string `json:"child_frame_id" cbor:"child_frame_id"`
	Pose         struct {
		Pose struct {
			Position    vector3    `json:"position" cbor:"position"`
			Orientation quaternion `json:"orientation" cbor:"orientation"`
		} `json:"pose" cbor:"pose"`
	} `json:"pose" cbor:"pose"`
	Twist struct {
		Twist struct {
			Linear vector3 `json:"linear" cbor:"linear"`
		} `json:"twist" cbor:"twist"`
	} `json:"twist" cbor:"twist"`
}

type batteryStateMsg struct {
	Percentage float64 `json:"percentage" cbor:"percentage"`
	Voltage    float64 `json:"voltage" cbor:"voltage"`
}

type stringMsg struct {
	Data string `json:"data" cbor:"data"`
}

type uint8Msg struct {
	Data uint8 `json:"data" cbor:"data"`
}

type float64Msg struct {
	Data float64 `json:"data" cbor:"data"`
}

type compressedImageMsg struct {
	Header header `json:"header" cbor:"header"`
	Format string `json:"format" cbor:"format"`
	Data   []byte `json:"data" cbor:"data"`
}
