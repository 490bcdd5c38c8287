// Command convctl is an interactive console for a converter, either over a
// local serial port or through a running convlink server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/banshee-data/convlink/internal/client"
	"github.com/banshee-data/convlink/internal/config"
	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/protocol"
	"github.com/banshee-data/convlink/internal/serialmux"
)

var (
	server     = flag.String("server", "", "URL of a convlink server; when set no serial port is opened")
	configPath = flag.String("config", "", "Path to a JSON or YAML device config")
	port       = flag.String("port", "", "Serial port (overrides config)")
	simulate   = flag.Bool("simulate", false, "Talk to an in-memory simulated converter")
	verbose    = flag.Bool("verbose", false, "Log every frame written and read")
)

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "converter> ",
		HistoryFile:     historyFile(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("failed to create readline: %v", err)
	}
	defer rl.Close()
	log.SetOutput(rl.Stderr())
	// The console prints results itself; controller logs only add noise.
	if *verbose {
		monitoring.SetLogger(log.Printf)
	} else {
		monitoring.SetLogger(nil)
	}

	op, closeOp, err := openOperator()
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeOp()
	fmt.Fprintln(rl.Stdout(), "Connected.")

	NewConsole(op, rl.Stdout()).Run(ctx, rl)
}

// openOperator returns the operator selected by the flags and a function
// releasing it.
func openOperator() (Operator, func(), error) {
	if *server != "" {
		return client.New(*server, nil), func() {}, nil
	}

	cfg := config.EmptyDeviceConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadDeviceConfig(*configPath); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if *port != "" {
		cfg.Port = port
	}

	var link serialmux.SerialMuxInterface
	switch {
	case *simulate:
		sim := serialmux.NewSimulatedConverter(protocol.TelemetryFrame{
			LowVoltage: 1510, HighVoltage: 2530, Current1: 1938, Current2: 1942, Temperature: 1288,
		})
		link = serialmux.NewSimulatedSerialMux(sim, cfg.MuxOptions()...)
	case cfg.GetPort() == "":
		return nil, nil, fmt.Errorf("one of --server, --port or --simulate is required")
	default:
		m, err := serialmux.NewRealSerialMux(cfg.GetPort(), cfg.GetPortOptions(), cfg.MuxOptions()...)
		if err != nil {
			return nil, nil, err
		}
		link = m
	}

	ctrl, err := converter.New(link, converter.Options{
		Calibration: cfg.GetCalibration(),
		Offset:      cfg.GetReferenceOffset(),
	})
	if err != nil {
		link.Close()
		return nil, nil, err
	}
	return localOperator{ctrl}, func() { link.Close() }, nil
}

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "convctl_history")
}
