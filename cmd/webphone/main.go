package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sebas/webphone/internal/banner"
	"github.com/sebas/webphone/internal/logger"
	"github.com/sebas/webphone/internal/webphone/app"
	"github.com/sebas/webphone/internal/webphone/call"
	"github.com/sebas/webphone/internal/webphone/config"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("Webphone", []banner.ConfigLine{
		{Label: "Backend", Value: cfg.BackendURL},
		{Label: "SIP", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	notifier := call.NotifierFunc(func(severity call.Severity, message string) {
		fmt.Printf("[%s] %s\n", strings.ToUpper(severity.String()), message)
	})

	engine := app.New(cfg, app.WithControllerOptions(call.WithNotifier(notifier)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		slog.Error("Webphone initialization failed", "error", err)
	}

	go commandLoop(ctx, engine)

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	engine.Shutdown(context.Background())
}

// commandLoop reads phone commands from stdin.
func commandLoop(ctx context.Context, engine *app.Engine) {
	ctrl := engine.Controller()
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println(`Commands: dial <number>, answer, reject, hangup, hold, mute,
transfer <number>, attended <number>, complete, cancel, conference,
endconference, status, quit`)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		var err error
		switch cmd {
		case "dial", "d":
			err = ctrl.CallNumber(ctx, arg)
		case "answer", "a":
			err = ctrl.AcceptIncoming(ctx)
		case "reject":
			err = ctrl.RejectIncoming(ctx)
		case "hangup", "h":
			err = ctrl.Hangup(ctx)
		case "hold":
			err = ctrl.ToggleHold(ctx)
		case "mute", "m":
			err = ctrl.ToggleMute()
		case "transfer", "t":
			if arg != "" {
				ctrl.UpdateDialNumber(arg)
			}
			err = ctrl.TransferCall(ctx)
		case "attended", "at":
			if arg != "" {
				ctrl.UpdateDialNumber(arg)
			}
			err = ctrl.StartAttendedTransfer(ctx)
		case "complete":
			err = ctrl.CompleteAttendedTransfer(ctx)
		case "cancel":
			err = ctrl.CancelAttendedTransfer(ctx)
		case "conference", "conf":
			err = ctrl.StartConference(ctx)
		case "endconference", "endconf":
			err = ctrl.EndConference(ctx)
		case "status", "s":
			printStatus(ctrl.Snapshot())
		case "quit", "q", "exit":
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		default:
			fmt.Println("Unknown command:", cmd)
		}
		if err != nil {
			slog.Debug("Command failed", "command", cmd, "error", err)
		}
	}
}

func printStatus(snap call.Snapshot) {
	fmt.Printf("registration=%s status=%s", snap.Registration, snap.Status)
	if snap.DialNumber != "" {
		fmt.Printf(" dial=%s", snap.DialNumber)
	}
	if snap.IncomingRinging {
		fmt.Printf(" incoming=%s", snap.IncomingCaller)
	}
	if snap.CallDuration > 0 {
		fmt.Printf(" duration=%ds", snap.CallDuration)
	}
	if snap.HoldActive {
		fmt.Print(" hold")
	}
	if snap.Muted {
		fmt.Print(" muted")
	}
	if snap.AttendedActive {
		fmt.Printf(" attended=%s(%s)", snap.AttendedNumber, snap.AttendedStatus)
	}
	if snap.ConferenceActive {
		fmt.Print(" conference")
	}
	fmt.Println()
}
