package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

// StatusRequest is empty; GetStatus reports the whole server's state.
type StatusRequest struct{}

// StatusResponse summarizes the agent's current state for factory test
// fixtures: which plan each session is in, the broker fence, and SSD state.
type StatusResponse struct {
	ActivePlans map[string]string `json:"active_plans"`
	FenceUnix   int64             `json:"fence_unix_nanos"`
	SSDState    string            `json:"ssd_state"`
}

// CalibrationMoveRequest issues one relative mirror nudge to a running
// CalibrationPlan.
type CalibrationMoveRequest struct {
	DX int32 `json:"dx"`
	DY int32 `json:"dy"`
}

// CalibrationMoveResponse is returned once the move has been queued.
type CalibrationMoveResponse struct {
	Queued bool `json:"queued"`
}

// AdminService is the handler surface the generated-free service descriptor
// below dispatches to.
type AdminService interface {
	GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	CalibrationMove(ctx context.Context, req *CalibrationMoveRequest) (*CalibrationMoveResponse, error)
}

// serviceDesc is a hand-built grpc.ServiceDesc standing in for what
// protoc-gen-go-grpc would normally generate from a .proto file. Each
// MethodDesc's Handler decodes the request with the server's codec (see
// jsonCodec) and dispatches to the matching AdminService method. Grounded
// on the RWMutex-protected map plus gRPC handler shape this package's
// predecessor used for plan registration, generalized here to status and
// calibration queries.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "orb.adminapi.AdminService",
	HandlerType: (*AdminService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetStatus",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(StatusRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(AdminService).GetStatus(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orb.adminapi.AdminService/GetStatus"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(AdminService).GetStatus(ctx, req.(*StatusRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
		{
			MethodName: "CalibrationMove",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(CalibrationMoveRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(AdminService).CalibrationMove(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orb.adminapi.AdminService/CalibrationMove"}
				handler := func(ctx context.Context, req any) (any, error) {
					return srv.(AdminService).CalibrationMove(ctx, req.(*CalibrationMoveRequest))
				}
				return interceptor(ctx, req, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/adminapi/service.go",
}
