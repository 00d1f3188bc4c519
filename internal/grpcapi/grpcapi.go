// Package grpcapi exposes a small gRPC admin surface alongside the
// gateway's HTTP API: route registration and job-status lookup, the same
// two operations /register and the orchestrator's status GET serve over
// HTTP. There is no .proto/protoc step here — requests and responses are
// carried as google.golang.org/protobuf/types/known/structpb.Struct
// values (already a compiled proto.Message), and the service is wired up
// by hand with a grpc.ServiceDesc instead of generated stubs.
package grpcapi

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentmesh/mesh/internal/jobtracker"
	"github.com/agentmesh/mesh/internal/logging"
	"github.com/agentmesh/mesh/internal/model"
	"github.com/agentmesh/mesh/internal/routetable"
)

// RouteRegistrar is satisfied by *routetable.Table.
type RouteRegistrar interface {
	Add(ctx context.Context, route model.Route) error
}

// Server implements the mesh's admin gRPC surface.
type Server struct {
	Table   RouteRegistrar
	Tracker *jobtracker.Tracker

	server *grpc.Server
}

// New constructs a Server. table is typically *routetable.Table.
func New(table *routetable.Table, tracker *jobtracker.Tracker) *Server {
	s := &Server{Tracker: tracker}
	// Assign only a non-nil table: a nil *routetable.Table stored in the
	// interface would not compare equal to nil in registerRoute.
	if table != nil {
		s.Table = table
	}
	return s
}

// Start binds addr and serves in a background goroutine.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.server = grpc.NewServer()
	s.server.RegisterService(&serviceDesc, s)

	logging.Op().Info("grpcapi.started", "addr", addr)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			logging.Op().Error("grpcapi.serve_failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully drains in-flight calls.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
}

// registerRoute handles the RegisterRoute RPC: req carries
// {category, action, url}, the response carries {code, message}.
func (s *Server) registerRoute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.Table == nil {
		return nil, status.Error(codes.Unimplemented, "this instance does not serve route registration")
	}
	fields := req.GetFields()
	category := fields["category"].GetStringValue()
	action := fields["action"].GetStringValue()
	url := fields["url"].GetStringValue()
	if category == "" || action == "" || url == "" {
		return nil, status.Error(codes.InvalidArgument, "category, action, and url are required")
	}

	if err := s.Table.Add(ctx, model.Route{Category: category, Action: action, URL: url}); err != nil {
		return nil, status.Errorf(codes.Unavailable, "register route: %v", err)
	}

	return structpb.NewStruct(map[string]any{"code": 0, "message": "ok"})
}

// getJobStatus handles the GetJobStatus RPC: req carries {request_id}, the
// response mirrors the orchestrator's GET job-status JSON body.
func (s *Server) getJobStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.Tracker == nil {
		return nil, status.Error(codes.Unimplemented, "this instance does not serve job status lookups")
	}
	requestID := req.GetFields()["request_id"].GetStringValue()
	if requestID == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}

	job, err := s.Tracker.GetJob(ctx, requestID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get job: %v", err)
	}
	if job == nil {
		return structpb.NewStruct(map[string]any{
			"request_id": requestID,
			"status":     string(model.StatusUnknown),
		})
	}

	resp := map[string]any{
		"request_id": requestID,
		"status":     string(job.Status),
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return structpb.NewStruct(resp)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "agentmesh.admin.v1.RouteAdmin",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterRoute",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.registerRoute(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/agentmesh.admin.v1.RouteAdmin/RegisterRoute"}
				handler := func(ctx context.Context, req any) (any, error) {
					return s.registerRoute(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
		{
			MethodName: "GetJobStatus",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				s := srv.(*Server)
				if interceptor == nil {
					return s.getJobStatus(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: s, FullMethod: "/agentmesh.admin.v1.RouteAdmin/GetJobStatus"}
				handler := func(ctx context.Context, req any) (any, error) {
					return s.getJobStatus(ctx, req.(*structpb.Struct))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/grpcapi/grpcapi.go",
}
