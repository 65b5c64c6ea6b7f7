package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/magnetprobe/internal/api"
	"github.com/banshee-data/magnetprobe/internal/broadcast"
	"github.com/banshee-data/magnetprobe/internal/config"
	"github.com/banshee-data/magnetprobe/internal/db"
	"github.com/banshee-data/magnetprobe/internal/ingest"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/probe"
	"github.com/banshee-data/magnetprobe/internal/render"
	"github.com/banshee-data/magnetprobe/internal/serialmux"
	"github.com/banshee-data/magnetprobe/internal/store"
	"github.com/banshee-data/magnetprobe/internal/version"
)

var (
	listen      = flag.String("listen", ":8000", "Listen address")
	configPath  = flag.String("config", "", "Path to a JSON service config (see "+config.ExampleConfigPath+")")
	devMode     = flag.Bool("dev", false, "Run in dev mode with basic figures and permissive CORS")
	snapshotDB  = flag.String("snapshot-db", "", "SQLite file to persist the latest reading in (overrides config)")
	serialPort  = flag.String("serial-port", "", "Serial device delivering newline-delimited readings (overrides config)")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)")
	mqttTopic   = flag.String("mqtt-topic", "", "MQTT topic carrying readings (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath, *devMode, config.Overrides{
		SnapshotDB: *snapshotDB,
		SerialPort: *serialPort,
		MQTTBroker: *mqttBroker,
		MQTTTopic:  *mqttTopic,
	})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting %s", version.Get().String())
	if err := run(ctx, *listen, cfg); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig picks the base config (file, dev preset, or defaults) and applies
// command-line overrides on top.
func loadConfig(path string, dev bool, o config.Overrides) (*config.ServiceConfig, error) {
	var cfg *config.ServiceConfig
	switch {
	case path != "":
		var err error
		if cfg, err = config.LoadServiceConfig(path); err != nil {
			return nil, err
		}
	case dev:
		cfg = config.DevConfig()
	default:
		cfg = config.EmptyServiceConfig()
	}
	cfg.Apply(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serviceConfig translates the JSON config into probe.Config.
func serviceConfig(cfg *config.ServiceConfig) (probe.Config, error) {
	style, err := render.ParseStyle(cfg.GetRenderStyle())
	if err != nil {
		return probe.Config{}, err
	}
	w, h, dpi := cfg.GetImageSize()

	pc := probe.DefaultConfig()
	pc.BroadcastOnUpdate = cfg.GetBroadcastOnUpdate()
	pc.SendTimeout = cfg.GetBroadcastWriteTimeout()
	pc.Render = render.Options{
		Style:  style,
		View:   render.DefaultView,
		Width:  vg.Length(w) * vg.Inch,
		Height: vg.Length(h) * vg.Inch,
		DPI:    dpi,
	}
	return pc, nil
}

// restoreSnapshot seeds st from the snapshot database when it holds a reading.
func restoreSnapshot(ctx context.Context, snap *db.DB, st *store.Store) error {
	r, at, found, err := snap.LoadLatest(ctx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	st.Restore(r, at)
	log.Printf("restored latest reading from %s (updated %s)", snap.Path(), at.Format(time.RFC3339))
	return nil
}

func run(ctx context.Context, addr string, cfg *config.ServiceConfig) error {
	pc, err := serviceConfig(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := monitoring.NewMetrics()
	registry := broadcast.NewRegistry(broadcast.WithSizeObserver(func(n int) {
		metrics.Viewers.Set(float64(n))
	}))
	defer registry.CloseAll()

	st := store.New()
	svcOpts := []probe.Option{probe.WithMetrics(metrics)}

	var snap *db.DB
	if path := cfg.GetSnapshotDB(); path != "" {
		if snap, err = db.NewDB(path); err != nil {
			return fmt.Errorf("failed to open snapshot db: %w", err)
		}
		defer snap.Close()
		if err := restoreSnapshot(ctx, snap, st); err != nil {
			return err
		}
		svcOpts = append(svcOpts, probe.WithSnapshotter(snap))
	}

	svc := probe.NewService(pc, st, registry, svcOpts...)

	apiOpts := api.Options{
		CORS: api.CORSOptions{
			Enabled:          cfg.GetCORSEnabled(),
			AllowedOrigins:   cfg.GetAllowedOrigins(),
			AllowCredentials: cfg.GetAllowCredentials(),
		},
		Metrics: metrics,
	}
	if path := cfg.GetAccessLog(); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer f.Close()
		apiOpts.AccessLog = f
	}
	server := api.NewServer(svc, apiOpts)

	// The serial mux is always present so its admin routes exist; without a
	// configured port it never produces lines.
	var serialMux serialmux.SerialMuxInterface = serialmux.NewDisabledSerialMux()
	sc := cfg.GetSerial()
	if sc.Port != "" {
		port, err := serialmux.NewRealSerialMux(sc.Port, serialmux.PortOptions{
			BaudRate: sc.BaudRate,
			DataBits: sc.DataBits,
			StopBits: sc.StopBits,
			Parity:   sc.Parity,
		})
		if err != nil {
			return err
		}
		serialMux = port
		log.Printf("reading coordinates from serial port %s", sc.Port)
	}
	defer serialMux.Close()

	var mqttSub *ingest.MQTTSubscriber
	if mc := cfg.GetMQTT(); mc.Broker != "" {
		mqttSub, err = ingest.NewMQTTSubscriber(ingest.MQTTOptions{
			Broker:   mc.Broker,
			Topic:    mc.Topic,
			ClientID: mc.ClientID,
		}, ingest.NewHandler(probe.SourceMQTT, svc, metrics))
		if err != nil {
			return err
		}
		log.Printf("reading coordinates from mqtt %s topic %s", mc.Broker, mc.Topic)
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	server.AttachAdminRoutes(mux)
	serialMux.AttachAdminRoutes(mux)
	if snap != nil {
		if err := snap.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serialIngest := ingest.NewSerialIngest(serialMux, ingest.NewHandler(probe.SourceSerial, svc, metrics))
		if err := serialIngest.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial ingest stopped: %v", err)
		}
		log.Print("serial ingest routine terminated")
	}()

	if mqttSub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttSub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("mqtt ingest stopped: %v", err)
			}
			log.Print("mqtt routine terminated")
		}()
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("failed to start server: %w", err)
		}
	}

	cancel()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := httpServer.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	// Hijacked WebSocket connections outlive Shutdown; closing the viewers
	// ends their handlers.
	registry.CloseAll()
	// Closing the port unblocks the monitor's pending read.
	serialMux.Close()

	wg.Wait()
	return runErr
}
