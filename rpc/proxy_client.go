package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
)

// ProxyClient forwards write batches for one namespace to the primary.
// It implements connection.RpcStream. Clients created with
// NewProxyClient share the caller's connection; DialProxy opens and
// owns one.
type ProxyClient struct {
	cc        *grpc.ClientConn
	namespace namespace.Name
	ownsConn  bool
}

func NewProxyClient(cc *grpc.ClientConn, ns namespace.Name) *ProxyClient {
	return &ProxyClient{cc: cc, namespace: ns}
}

// DialProxy connects to the primary at addr and returns a client bound
// to ns.
func DialProxy(ctx context.Context, addr string, ns namespace.Name) (*ProxyClient, error) {
	// TODO: implement SSL option
	cc, err := grpc.DialContext(ctx, addr, grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to primary server")
	}
	return &ProxyClient{cc: cc, namespace: ns, ownsConn: true}, nil
}

// Execute forwards batch to the primary and blocks for its typed
// result. A statement-level failure comes back as *StatementError,
// exactly as a local execution would have produced; a transport failure
// surfaces as-is and is never retried here.
func (c *ProxyClient) Execute(ctx context.Context, batch connection.Batch) ([]connection.Result, error) {
	req := &ExecuteRequest{Namespace: c.namespace.String(), Batch: batch}
	resp := new(ExecuteResponse)
	if err := c.cc.Invoke(ctx, proxyExecuteMethod, req, resp,
		grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, errors.Wrap(err, "failed to forward write batch to primary")
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Results, nil
}

func (c *ProxyClient) Close() error {
	if !c.ownsConn {
		return nil
	}
	if err := c.cc.Close(); err != nil {
		return errors.Wrap(err, "failed to close gRPC connection")
	}
	return nil
}
