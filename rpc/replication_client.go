package rpc

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/replication"
)

var framesStreamDesc = grpc.StreamDesc{
	StreamName:    "Frames",
	ServerStreams: true,
}

// ReplicationClient follows one namespace's replication stream from the
// primary. It implements replication.FrameSource; the receiver's
// retryer calls Connect again after a stream failure.
type ReplicationClient struct {
	cc        *grpc.ClientConn
	namespace namespace.Name
	ownsConn  bool

	stream grpc.ClientStream
	cancel context.CancelFunc
}

func NewReplicationClient(cc *grpc.ClientConn, ns namespace.Name) *ReplicationClient {
	return &ReplicationClient{cc: cc, namespace: ns}
}

// DialReplication connects to the primary at addr and returns a client
// bound to ns.
func DialReplication(ctx context.Context, addr string, ns namespace.Name) (*ReplicationClient, error) {
	cc, err := grpc.DialContext(ctx, addr, grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to primary server")
	}
	return &ReplicationClient{cc: cc, namespace: ns, ownsConn: true}, nil
}

// Connect opens the frame stream starting at nextFrameNo.
func (c *ReplicationClient) Connect(ctx context.Context, nextFrameNo uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.cc.NewStream(ctx, &framesStreamDesc, replicationFramesMethod,
		grpc.CallContentSubtype(CodecName))
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to open replication stream")
	}
	req := &FramesRequest{Namespace: c.namespace.String(), NextFrameNo: nextFrameNo}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return errors.Wrap(err, "failed to send replication stream request")
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return errors.Wrap(err, "failed to close send side of replication stream")
	}
	c.stream = stream
	c.cancel = cancel
	return nil
}

// Next blocks until a frame batch arrives. It returns io.EOF when the
// primary closed the namespace's log and the stream ended cleanly.
func (c *ReplicationClient) Next(ctx context.Context) (*replication.FrameBatch, error) {
	if c.stream == nil {
		return nil, errors.New("replication stream is not connected")
	}
	batch := new(replication.FrameBatch)
	if err := c.stream.RecvMsg(batch); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "failed to receive frame batch")
	}
	return batch, nil
}

// Close tears down the current stream. The client can Connect again
// afterwards; the receiver's retry loop relies on that.
func (c *ReplicationClient) Close() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.stream = nil
	}
	return nil
}

// Shutdown closes the stream and, for dialed clients, the underlying
// connection. The client is unusable afterwards.
func (c *ReplicationClient) Shutdown() error {
	c.Close()
	if !c.ownsConn {
		return nil
	}
	if err := c.cc.Close(); err != nil {
		return errors.Wrap(err, "failed to close gRPC connection")
	}
	return nil
}
