// Command mount_server exposes a telescope mount over HTTP, WebSocket and a
// rotctld-style TCP control socket.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/moonpano/mount_interface/config"
	"github.com/moonpano/mount_interface/driver"
	"github.com/moonpano/mount_interface/guideport"
	"github.com/moonpano/mount_interface/lx200"
	"github.com/moonpano/mount_interface/mount"
)

var (
	configPath = flag.String("config", "mount.yaml", "path to the configuration file")
	serialPort = flag.String("serial", "", "override the serial port from the config")
	staticDir  = flag.String("static_dir", "", "override the static file directory")
)

func openDriver(cfg *config.Config) (driver.Mount, error) {
	var drv driver.Mount
	switch cfg.Driver.Type {
	case "lx200":
		drv = lx200.New(cfg.Driver.Port, cfg.Driver.Baud)
	default:
		drv = mount.NewSimulator()
	}
	if !cfg.GuidePort.Enabled {
		return drv, nil
	}
	g, err := guideport.Connect(cfg.GuidePort.Port, cfg.GuidePort.Baud)
	if err != nil {
		return nil, err
	}
	return guideport.Wrap(drv, g), nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *serialPort != "" {
		cfg.Driver.Port = *serialPort
	}
	if *staticDir != "" {
		cfg.Server.StaticDir = *staticDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drv, err := openDriver(cfg)
	if err != nil {
		log.Fatal(err)
	}

	server := NewServer(cfg.EphemerisSite())
	m, err := mount.New(cfg.MountConfig(), drv, server.statusCallback)
	if err != nil {
		log.Fatal(err)
	}
	server.m = m

	r := mux.NewRouter()
	r.HandleFunc("/api/status", server.StatusHandler)
	r.HandleFunc("/api/ws", server.StatusSocketHandler)
	if cfg.Server.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}
	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Server.HTTPAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Server.TCPAddr != "" {
		if err := server.ListenControl(ctx, cfg.Server.TCPAddr); err != nil {
			log.Fatal(err)
		}
	}
	g.Go(func() error {
		log.Printf("listening on %s", cfg.Server.HTTPAddr)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return m.Close()
	})
	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
