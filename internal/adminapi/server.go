package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/orbagent/core/internal/broker"
	"github.com/orbagent/core/internal/plan"
	"github.com/orbagent/core/internal/ssdstate"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CalibrationMover is the narrow interface a running mirror-calibration
// plan exposes so the admin API can drive it without importing cmd-level
// wiring.
type CalibrationMover interface {
	Move(dx, dy int32) error
}

// Server answers factory-test queries over a unix socket: which plan each
// session is running, the broker's fence, and the SSD health latch.
type Server struct {
	grpcServer *grpc.Server
	store      *plan.Store
	fence      func() broker.Fence
	ssd        *ssdstate.Latch
	calib      CalibrationMover
}

// New builds a Server. fence may be nil if the caller has no broker fence
// to report (StatusResponse.FenceUnix is then 0). calib may be nil, in
// which case CalibrationMove always fails.
func New(store *plan.Store, fence func() broker.Fence, ssd *ssdstate.Latch, calib CalibrationMover) *Server {
	s := &Server{store: store, fence: fence, ssd: ssd, calib: calib}
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	resp := &StatusResponse{
		ActivePlans: s.store.Snapshot(),
		SSDState:    s.ssd.Get().String(),
	}
	if s.fence != nil {
		resp.FenceUnix = s.fence().At().UnixNano()
	}
	return resp, nil
}

func (s *Server) CalibrationMove(ctx context.Context, req *CalibrationMoveRequest) (*CalibrationMoveResponse, error) {
	if s.calib == nil {
		return nil, fmt.Errorf("adminapi: no calibration plan running")
	}
	if err := s.calib.Move(req.DX, req.DY); err != nil {
		return nil, fmt.Errorf("adminapi: calibration move: %w", err)
	}
	return &CalibrationMoveResponse{Queued: true}, nil
}

// Serve listens on the unix socket at path and blocks serving RPCs until
// ctx is cancelled. The socket file is removed first, since a stale one
// left by a crashed previous run would otherwise make net.Listen fail with
// "address already in use".
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminapi: remove stale socket: %w", err)
	}

	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("adminapi: listen on %s: %w", path, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.grpcServer.GracefulStop()
		slog.Info("adminapi: server stopped", "reason", ctx.Err())
		return nil
	case err := <-errCh:
		return err
	}
}
