package rpc

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/asajjanshetty/libsql/connection"
	"github.com/asajjanshetty/libsql/namespace"
	"github.com/asajjanshetty/libsql/utils/log"
)

// ProxyService is the write-proxy surface a primary exposes to its
// replicas.
type ProxyService interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error)
}

const proxyServiceName = "libsql.Proxy"

var proxyExecuteMethod = "/" + proxyServiceName + "/Execute"

func proxyExecuteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProxyService).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: proxyExecuteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProxyService).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var proxyServiceDesc = grpc.ServiceDesc{
	ServiceName: proxyServiceName,
	HandlerType: (*ProxyService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: proxyExecuteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc/proxy_server.go",
}

// RegisterProxyServer registers svc on s.
func RegisterProxyServer(s *grpc.Server, svc ProxyService) {
	s.RegisterService(&proxyServiceDesc, svc)
}

// ProxyServer executes forwarded write batches against the primary's
// local connections.
type ProxyServer struct {
	resolver NamespaceResolver
}

func NewProxyServer(resolver NamespaceResolver) *ProxyServer {
	return &ProxyServer{resolver: resolver}
}

func (s *ProxyServer) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	ns, err := namespace.NewName(req.Namespace)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid namespace %q", req.Namespace)
	}

	maker, err := s.resolver.ConnectionMaker(ctx, ns)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "namespace %s: %v", ns, err)
	}
	conn, err := maker.Create(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "failed to open connection for namespace %s: %v", ns, err)
	}
	defer conn.Close()

	log.Debug("executing proxied write batch for namespace %s (%d statements)", ns, len(req.Batch))
	results, err := conn.Execute(ctx, req.Batch)
	if err != nil {
		var stmtErr *connection.StatementError
		if errors.As(err, &stmtErr) {
			// The statement failed the way it would have locally; the
			// replica's caller gets the same typed error.
			return &ExecuteResponse{Error: stmtErr}, nil
		}
		return nil, status.Errorf(codes.Internal, "failed to execute batch: %v", err)
	}
	return &ExecuteResponse{Results: results}, nil
}
