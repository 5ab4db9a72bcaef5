// Command orb-agent is the production daemon: it wires config, the MCU
// link, the main capture broker and its Plan sequencer, the background
// Observer, the admin API, and the dev dashboard together and runs until
// signalled to stop. Grounded on the teacher's cmd/server/main.go minimal
// bootstrap shape and cmd/probe/main.go's signal-context lifecycle.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/nacl/box"

	"github.com/orbagent/core/internal/adminapi"
	"github.com/orbagent/core/internal/agent"
	"github.com/orbagent/core/internal/backend"
	"github.com/orbagent/core/internal/broker"
	"github.com/orbagent/core/internal/config"
	"github.com/orbagent/core/internal/devdash"
	"github.com/orbagent/core/internal/mculink"
	"github.com/orbagent/core/internal/mculink/canbus"
	"github.com/orbagent/core/internal/mculink/uart"
	"github.com/orbagent/core/internal/monitoring"
	"github.com/orbagent/core/internal/observer"
	"github.com/orbagent/core/internal/plan"
	"github.com/orbagent/core/internal/runtime"
	"github.com/orbagent/core/internal/shm"
	"github.com/orbagent/core/internal/ssdstate"
	"github.com/orbagent/core/internal/subprocess"
)

func main() {
	_ = godotenv.Load() // dev-machine overrides; absent in production images

	if err := run(); err != nil {
		slog.Error("orb-agent: fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	metrics := monitoring.New()
	ssd := new(ssdstate.Latch)
	store := plan.NewStore()

	transport, err := openMCUTransport(cfg.MCU)
	if err != nil {
		return fmt.Errorf("orb-agent: open mcu transport: %w", err)
	}
	link := mculink.New(transport)
	defer link.Close()

	beClient, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.PinnedCASHA256)
	if err != nil {
		return fmt.Errorf("orb-agent: build backend client: %w", err)
	}

	// The identity vault normally supplies the enrolling user's own public
	// key over a side channel; absent that wiring here, each boot generates
	// a placeholder keypair so SelfCustodyUploadPlan still has something to
	// seal against.
	recipientPub, _, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("orb-agent: generate self-custody key: %w", err)
	}

	idle := &idlePlan{store: store, backend: beClient, recipientPub: recipientPub, wantCameras: []string{"ir_eye_left", "ir_eye_right", "rgb_face"}}
	seq := plan.NewSequencer(idle)
	idle.seq = seq

	mainBroker, err := buildMainBroker(ctx, cfg.Agents, seq)
	if err != nil {
		return fmt.Errorf("orb-agent: build main broker: %w", err)
	}

	obs := observer.New(observer.Config{
		MCU:         link,
		Fan:         noopFan{},
		LED:         noopLED{},
		MaxFanSpeed: func() float64 { return cfg.Thermal.MaxFanSpeedPercent },
	})

	adminSrv := adminapi.New(store, mainBroker.Fence, ssd, nil)
	dash := devdash.New(func() any {
		return map[string]any{
			"sessions": store.Snapshot(),
			"ssd":      ssd.Get().String(),
		}
	}, time.Second)

	errCh := make(chan error, 4)

	go func() { errCh <- runtime.Run(ctx, mainBroker, obs) }()
	go func() { errCh <- adminSrv.Serve(ctx, "/run/orb-agent/admin.sock") }()
	go func() {
		srv := &http.Server{Addr: cfg.Monitoring.ListenAddr, Handler: metrics.Handler()}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("orb-agent: metrics server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() { errCh <- dash.Run(ctx) }()

	for i := 0; i < 4; i++ {
		if err := <-errCh; err != nil {
			stop()
			return err
		}
	}
	return nil
}

// mcuCANTxID and mcuCANRxID are the fixed arbitration IDs the firmware uses
// for the host-to-MCU and MCU-to-host directions.
const (
	mcuCANTxID = 0x100
	mcuCANRxID = 0x101
)

// openMCUTransport opens the link named by cfg.Transport, falling back to
// UART (the default) for any unrecognized value.
func openMCUTransport(cfg config.MCUConfig) (mculink.Transport, error) {
	switch cfg.Transport {
	case "can":
		sock, err := canbus.Open(cfg.CANInterface)
		if err != nil {
			return nil, fmt.Errorf("open can interface %s: %w", cfg.CANInterface, err)
		}
		return mculink.NewCANTransport(sock, mcuCANTxID, mcuCANRxID), nil
	default:
		port, err := uart.Open(cfg.UARTDevice, cfg.UARTBaud)
		if err != nil {
			return nil, fmt.Errorf("open uart device %s: %w", cfg.UARTDevice, err)
		}
		return mculink.NewUARTTransport(port), nil
	}
}

// buildMainBroker wires the capture broker's five agent cells, each backed
// by a real subprocess launched from cfg's configured binary path: a
// process strategy communicating over shared memory (internal/shm), with
// its output pumped into the cell's port by agent.AttachOutput and its
// unexpected exits dispatched through agent.HandleExit so ExitRestart
// actually respawns the child attached to the same regions.
func buildMainBroker(ctx context.Context, cfg config.AgentsConfig, seq *plan.Sequencer) (*broker.Broker, error) {
	mirror := broker.NewCell[plan.MirrorOutput]()
	camera := broker.NewCell[plan.CameraFrame]()
	pipeline := broker.NewCell[plan.PipelineResult]()
	qrscan := broker.NewCell[plan.QRScanResult]()
	upload := broker.NewCell[plan.UploadResult]()

	mirrorAgent, err := launchAgentCell(ctx, "mirror", cfg.MirrorPath, mirror)
	if err != nil {
		return nil, fmt.Errorf("orb-agent: launch mirror agent: %w", err)
	}
	cameraAgent, err := launchAgentCell(ctx, "camera", cfg.CameraPath, camera)
	if err != nil {
		return nil, fmt.Errorf("orb-agent: launch camera agent: %w", err)
	}
	pipelineAgent, err := launchAgentCell(ctx, "pipeline", cfg.PipelinePath, pipeline)
	if err != nil {
		return nil, fmt.Errorf("orb-agent: launch pipeline agent: %w", err)
	}
	qrscanAgent, err := launchAgentCell(ctx, "qrscan", cfg.QRScanPath, qrscan)
	if err != nil {
		return nil, fmt.Errorf("orb-agent: launch qrscan agent: %w", err)
	}
	uploadAgent, err := launchAgentCell(ctx, "upload", cfg.UploadPath, upload)
	if err != nil {
		return nil, fmt.Errorf("orb-agent: launch upload agent: %w", err)
	}

	b := broker.New([]broker.Entry{
		{
			Name:     "mirror",
			ExitedCh: mirrorAgent.Exited,
			OnExit:   onAgentExit(ctx, mirrorAgent),
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.PollCell(mirror, fence, seq.HandleMirror)
			},
		},
		{
			Name:     "camera",
			ExitedCh: cameraAgent.Exited,
			OnExit:   onAgentExit(ctx, cameraAgent),
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.PollCell(camera, fence, seq.HandleCamera)
			},
		},
		{
			Name:     "pipeline",
			ExitedCh: pipelineAgent.Exited,
			OnExit:   onAgentExit(ctx, pipelineAgent),
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.PollCell(pipeline, fence, seq.HandlePipeline)
			},
		},
		{
			Name:     "qrscan",
			ExitedCh: qrscanAgent.Exited,
			OnExit:   onAgentExit(ctx, qrscanAgent),
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.PollCell(qrscan, fence, seq.HandleQRScan)
			},
		},
		{
			Name:     "upload",
			ExitedCh: uploadAgent.Exited,
			OnExit:   onAgentExit(ctx, uploadAgent),
			Poll: func(fence broker.Fence) (broker.Flow, error) {
				return broker.PollCell(upload, fence, seq.HandleUpload)
			},
		},
	})
	b.Extra = func(fence broker.Fence) (broker.Flow, error) {
		return seq.PollExtra(context.Background())
	}
	return b, nil
}

// launchAgentCell starts name's subprocess from binaryPath, attaches its
// shared-memory output region to cell's port, and enables the cell. The
// init region is written once, before the first launch, and is never
// recreated: a later restart (see onAgentExit) relaunches only the child
// process, so it re-attaches to this same region with its original payload
// intact.
func launchAgentCell[T any](ctx context.Context, name, binaryPath string, cell *broker.Cell[T]) (agent.Strategy, error) {
	initRegion, err := shm.New(name+"-init", shm.InitRegionSize)
	if err != nil {
		return nil, fmt.Errorf("create init region: %w", err)
	}
	if err := initRegion.Write([]byte(`{}`)); err != nil {
		return nil, fmt.Errorf("write init payload: %w", err)
	}
	outputRegion, err := shm.New(name+"-output", shm.OutputRegionSize)
	if err != nil {
		return nil, fmt.Errorf("create output region: %w", err)
	}

	spec := subprocess.Spec{
		Path:    binaryPath,
		Title:   "orb-agent-" + name,
		Regions: []*shm.Region{initRegion, outputRegion},
	}
	strategy := agent.NewProcessStrategy(spec, agent.ExitRestart)
	if err := strategy.Start(ctx); err != nil {
		return nil, fmt.Errorf("start subprocess: %w", err)
	}

	port := agent.AttachOutput(ctx, outputRegion, agent.DecodeJSON[T])
	if err := cell.Enable(nil, port); err != nil {
		return nil, fmt.Errorf("enable cell: %w", err)
	}
	return strategy, nil
}

// onAgentExit adapts agent.HandleExit to broker.Entry.OnExit: a restart
// keeps the broker running, an intentional close or a fatal exit ends it.
func onAgentExit(ctx context.Context, strategy agent.Strategy) func(agent.ExitEvent) (broker.Flow, error) {
	return func(ev agent.ExitEvent) (broker.Flow, error) {
		restarted, err := agent.HandleExit(ctx, strategy, ev)
		if err != nil {
			return broker.Break, err
		}
		if !restarted {
			return broker.Break, nil
		}
		return broker.Continue, nil
	}
}

// idlePlan is the Sequencer's resting state: it does nothing until a QR
// scan names a signup session, at which point it starts a CapturePlan and
// chains a SelfCustodyUploadPlan onto its completion.
type idlePlan struct {
	plan.BasePlan
	seq          *plan.Sequencer
	store        *plan.Store
	backend      *backend.Client
	recipientPub *[32]byte
	wantCameras  []string
}

func (p *idlePlan) HandleQRScan(r plan.QRScanResult) (plan.Flow, error) {
	signupID := r.Payload
	slog.Info("orb-agent: starting capture session", "signup_id", signupID)
	p.store.Enter(signupID, "capture")

	capture := plan.NewCapturePlan(45*time.Second, p.wantCameras)
	capture.OnComplete = func(frames map[string][]byte, result plan.PipelineResult) error {
		p.store.Enter(signupID, "upload")
		if !result.Accepted {
			p.store.Leave(signupID)
			p.seq.Reset()
			return nil
		}
		upload := &plan.SelfCustodyUploadPlan{
			SignupID: signupID,
			Images:   frames,
			Seal: func(plaintext []byte) ([]byte, error) {
				return backend.SealSelfCustodyImage(plaintext, p.recipientPub)
			},
			Upload: p.backend.UploadSelfCustodyImage,
		}
		p.seq.Set(upload)
		return nil
	}
	p.seq.Set(capture)
	return plan.Continue, nil
}

type noopFan struct{}

func (noopFan) SetSpeed(percent float64) error { return nil }

type noopLED struct{}

func (noopLED) BatteryCapacity(percent uint8) {}
func (noopLED) BatteryCharging(charging bool) {}
func (noopLED) NetworkGood()                  {}
func (noopLED) NetworkSlow()                  {}
func (noopLED) NetworkNone()                  {}
func (noopLED) Button(pressed bool)           {}
