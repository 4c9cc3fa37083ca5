package stream

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lidarconsole.PointCloud"

const streamSnapshotsMethod = "/" + ServiceName + "/StreamSnapshots"

// SnapshotServer is the server side of the snapshot stream. The request
// carries the maximum points per message, 0 for all.
type SnapshotServer interface {
	StreamSnapshots(req *wrapperspb.UInt32Value, stream SnapshotStream) error
}

// SnapshotStream sends packed snapshots to one client.
type SnapshotStream interface {
	Send(*wrapperspb.BytesValue) error
	Context() context.Context
}

type snapshotStream struct {
	grpc.ServerStream
}

func (s *snapshotStream) Send(m *wrapperspb.BytesValue) error {
	return s.ServerStream.SendMsg(m)
}

func streamSnapshotsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(wrapperspb.UInt32Value)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SnapshotServer).StreamSnapshots(req, &snapshotStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapshotServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamSnapshots",
			Handler:       streamSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "lidarconsole/pointcloud.proto",
}

// RegisterSnapshotServer registers srv on s.
func RegisterSnapshotServer(s grpc.ServiceRegistrar, srv SnapshotServer) {
	s.RegisterService(&serviceDesc, srv)
}

// SnapshotClient receives snapshots from a StreamSnapshots call.
type SnapshotClient struct {
	stream grpc.ClientStream
}

// Subscribe opens a snapshot stream on conn. maxPoints limits each message
// to the newest points, 0 for all.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, maxPoints uint32, opts ...grpc.CallOption) (*SnapshotClient, error) {
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamSnapshotsMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.UInt32(maxPoints)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SnapshotClient{stream: stream}, nil
}

// Recv blocks for the next snapshot.
func (c *SnapshotClient) Recv() (Snapshot, error) {
	m := new(wrapperspb.BytesValue)
	if err := c.stream.RecvMsg(m); err != nil {
		return Snapshot{}, err
	}
	s, err := Unpack(m.GetValue())
	if err != nil {
		return Snapshot{}, fmt.Errorf("unpack snapshot: %w", err)
	}
	return s, nil
}
