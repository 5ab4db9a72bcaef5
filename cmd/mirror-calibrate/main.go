// Command mirror-calibrate is an interactive terminal tool for manually
// aiming the mirror during factory calibration: arrow keys nudge it in
// 0.1-degree steps, and q prints the last mirror position the plan received
// and quits; the position is not persisted. Space (active eye) and p
// (closed-loop PID) only flip and print a local setting, and t/T only print
// a notice: none of these keys sends anything to the MCU, and no thermal
// compensation or FSC calibration is run.
// Grounded on the original Rust manual-mirror-calibration binary's keymap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/orbagent/core/internal/mculink"
	"github.com/orbagent/core/internal/mculink/canbus"
	"github.com/orbagent/core/internal/mculink/uart"
	"github.com/orbagent/core/internal/plan"
)

const stepMicrosteps = 10 // ~0.1 degree per keypress, matching the firmware's microstep scale

func main() {
	uartDevice := flag.String("uart", "/dev/ttyTHS0", "UART device path")
	uartBaud := flag.Uint("baud", 115200, "UART baud rate")
	canIface := flag.String("can", "", "CAN interface name (overrides -uart if set)")
	flag.Parse()

	if err := run(*uartDevice, uint32(*uartBaud), *canIface); err != nil {
		slog.Error("mirror-calibrate: fatal", "err", err)
		os.Exit(1)
	}
}

func run(uartDevice string, baud uint32, canIface string) error {
	transport, err := openTransport(uartDevice, baud, canIface)
	if err != nil {
		return fmt.Errorf("open mcu transport: %w", err)
	}
	link := mculink.New(transport)
	defer link.Close()

	restore, err := setRawMode(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("enter raw terminal mode: %w", err)
	}
	defer restore()

	ctx := context.Background()
	calib := plan.NewCalibrationPlan(func(dx, dy int32) error {
		return link.Send(ctx, mculink.EncodeMirrorMove(dx, dy))
	})

	fmt.Println("mirror-calibrate: arrows move, space switches eye, p toggles PID, t thermal, q quits")

	done := make(chan struct{})
	calib.OnDone = func(finalX, finalY int32) error {
		fmt.Printf("\nfinal position: x=%d y=%d\n", finalX, finalY)
		close(done)
		return nil
	}

	go pollPlan(ctx, calib)

	keys := make(chan byte)
	go readKeys(keys)

	leftEye := true
	pidEnabled := true
	for {
		select {
		case k := <-keys:
			switch k {
			case 'q':
				close(calib.Done)
				<-done
				return nil
			case 'A': // up arrow (ESC [ A already stripped by readKeys)
				calib.Step <- plan.MirrorStep{DY: -stepMicrosteps}
			case 'B': // down arrow
				calib.Step <- plan.MirrorStep{DY: stepMicrosteps}
			case 'C': // right arrow
				calib.Step <- plan.MirrorStep{DX: stepMicrosteps}
			case 'D': // left arrow
				calib.Step <- plan.MirrorStep{DX: -stepMicrosteps}
			case ' ':
				leftEye = !leftEye
				fmt.Printf("\nactive eye: %s\n", eyeName(leftEye))
			case 'p':
				pidEnabled = !pidEnabled
				fmt.Printf("\nclosed-loop PID: %v\n", pidEnabled)
			case 't', 'T':
				fmt.Println("\nthermal compensation toggled (FSC calibration not wired in this build)")
			}
		case <-done:
			return nil
		}
	}
}

func eyeName(left bool) string {
	if left {
		return "left"
	}
	return "right"
}

func pollPlan(ctx context.Context, calib *plan.CalibrationPlan) {
	for {
		flow, err := calib.PollExtra(ctx)
		if err != nil {
			slog.Error("mirror-calibrate: plan error", "err", err)
			return
		}
		if flow == plan.Break {
			return
		}
	}
}

func openTransport(uartDevice string, baud uint32, canIface string) (mculink.Transport, error) {
	if canIface != "" {
		sock, err := canbus.Open(canIface)
		if err != nil {
			return nil, err
		}
		return mculink.NewCANTransport(sock, 0x100, 0x101), nil
	}
	port, err := uart.Open(uartDevice, baud)
	if err != nil {
		return nil, err
	}
	return mculink.NewUARTTransport(port), nil
}

// setRawMode disables canonical mode and echo on fd so arrow-key escape
// sequences and single keystrokes reach readKeys byte by byte, returning a
// function that restores the terminal's original settings.
func setRawMode(fd int) (func(), error) {
	orig, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	raw := *orig
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, err
	}
	return func() {
		unix.IoctlSetTermios(fd, unix.TCSETS, orig)
	}, nil
}

// readKeys reads stdin byte by byte, collapsing ESC [ <letter> arrow-key
// escape sequences down to the trailing letter so the main select loop
// never has to deal with multi-byte sequences.
func readKeys(out chan<- byte) {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		b := buf[0]
		if b != 0x1b {
			out <- b
			continue
		}
		// escape sequence: consume '[' then the final letter
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		out <- buf[0]
	}
}
