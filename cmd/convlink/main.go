package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/convlink/internal/api"
	"github.com/banshee-data/convlink/internal/converter"
	"github.com/banshee-data/convlink/internal/db"
	"github.com/banshee-data/convlink/internal/monitoring"
	"github.com/banshee-data/convlink/internal/version"
)

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Parse()

	if flags.showVersion {
		fmt.Println(version.Get())
		return
	}
	log.Printf("convlink %s", version.Get())
	monitoring.SetVerbose(flags.verbose)

	cfg, err := flags.deviceConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	link, err := openLink(flags, cfg)
	if err != nil {
		log.Fatalf("failed to open converter link: %v", err)
	}
	defer link.Close()
	switch {
	case flags.disableDevice:
		log.Printf("converter link disabled")
	case flags.simulate:
		log.Printf("Connected to simulated converter.")
	default:
		log.Printf("Connected. %s at %s", cfg.GetPort(), cfg.GetPortOptions())
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	reg := monitoring.NewRegistry()
	ctrl, err := converter.New(link, converter.Options{
		Calibration: cfg.GetCalibration(),
		Offset:      cfg.GetReferenceOffset(),
		Recorder:    database,
		Setpoints:   database,
		Metrics:     monitoring.NewLinkMetrics(reg),
	})
	if err != nil {
		log.Fatalf("failed to create controller: %v", err)
	}

	// Create a wait group for the HTTP server, serial monitor, and recorder routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// record every exchange before anything can poll
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("recorder stopped: %v", err)
		}
		log.Print("recorder routine terminated")
	}()

	// periodic telemetry polling
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor converter: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctrl, database).ServeMux()
		link.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)
		mux.Handle("/metrics", monitoring.Handler(reg))

		server := &http.Server{
			Addr:              cfg.GetListen(),
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
