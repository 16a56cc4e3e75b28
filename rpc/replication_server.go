package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
	"github.com/asajjanshetty/libsql/utils/log"
	"github.com/asajjanshetty/libsql/utils/watch"
)

// defaultMaxBatchFrames caps how many frames one stream message
// carries. A transaction larger than the cap is still shipped whole:
// batches always extend to a commit boundary.
const defaultMaxBatchFrames = 1024

// FramesSender is the server side of one replication stream.
type FramesSender interface {
	Send(*replication.FrameBatch) error
	grpc.ServerStream
}

// ReplicationService streams committed frames to replicas.
type ReplicationService interface {
	Frames(req *FramesRequest, stream FramesSender) error
}

const replicationServiceName = "libsql.Replication"

var replicationFramesMethod = "/" + replicationServiceName + "/Frames"

type framesSendStream struct {
	grpc.ServerStream
}

func (s framesSendStream) Send(b *replication.FrameBatch) error {
	return s.ServerStream.SendMsg(b)
}

func replicationFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(FramesRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ReplicationService).Frames(req, framesSendStream{stream})
}

var replicationServiceDesc = grpc.ServiceDesc{
	ServiceName: replicationServiceName,
	HandlerType: (*ReplicationService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{StreamName: "Frames", Handler: replicationFramesHandler, ServerStreams: true},
	},
	Metadata: "rpc/replication_server.go",
}

// RegisterReplicationServer registers svc on s.
func RegisterReplicationServer(s *grpc.Server, svc ReplicationService) {
	s.RegisterService(&replicationServiceDesc, svc)
}

// ReplicationServer streams each namespace's replication log to its
// followers. A stream ends cleanly (io.EOF at the client) when the
// namespace's log is shut down, and with an error otherwise.
type ReplicationServer struct {
	resolver       NamespaceResolver
	maxBatchFrames int
}

func NewReplicationServer(resolver NamespaceResolver) *ReplicationServer {
	return &ReplicationServer{resolver: resolver, maxBatchFrames: defaultMaxBatchFrames}
}

func (s *ReplicationServer) Frames(req *FramesRequest, stream FramesSender) error {
	ns, err := namespace.NewName(req.Namespace)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid namespace %q", req.Namespace)
	}
	ctx := stream.Context()

	logger, err := s.resolver.ReplicationLogger(ctx, ns)
	if err != nil {
		return status.Errorf(codes.NotFound, "namespace %s: %v", ns, err)
	}

	next := req.NextFrameNo
	if next == 0 {
		next = 1
	}
	log.Info("replica following namespace %s from frame %d", ns, next)

	commits := logger.Commits().Subscribe()
	for {
		frames := logger.FramesSince(next, 0)
		if batch := cutBatch(frames, s.maxBatchFrames); batch != nil {
			if err := stream.Send(batch); err != nil {
				return errors.Wrap(err, "failed to send frame batch")
			}
			next = batch.EndFrameNo() + 1
			continue
		}

		if logger.ClosedSignal().Get() {
			// Log shut down and fully drained; end the stream cleanly.
			return nil
		}
		if err := commits.Changed(ctx); err != nil {
			if errors.Is(err, watch.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// cutBatch takes the longest prefix of frames that ends on a commit
// boundary and stays within max, extended past max if the first
// transaction alone exceeds it. It returns nil when no complete
// transaction is available.
func cutBatch(frames []replication.Frame, max int) *replication.FrameBatch {
	end := 0
	for i := range frames {
		if frames[i].IsCommit() {
			end = i + 1
			if end >= max {
				break
			}
		}
	}
	if end == 0 {
		return nil
	}
	return &replication.FrameBatch{Frames: frames[:end]}
}
