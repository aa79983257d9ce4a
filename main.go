package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/adminapi"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/walink"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
)

var (
	h        = flag.Bool("h", false, "help usage")
	showVer  = flag.Bool("v", false, "show version")
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate the database schema")
)

var (
	BuildVersion = "latest"
	ReleaseDate  = ""
)

func printVersion() {
	fmt.Printf("wagate %s build %s\n", BuildVersion, ReleaseDate)
}

func main() {
	flag.Parse()
	if *h {
		flag.Usage()
		os.Exit(0)
	}
	if *showVer {
		printVersion()
		os.Exit(0)
	}

	cfg := config.LoadConfig(*conffile)
	_ = os.MkdirAll(cfg.System.Workdir, 0o755)
	_ = os.MkdirAll(cfg.System.Workdir+"/data", 0o755)

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		zap.L().Info("database initialized")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := application.DB().DB()
	if err != nil {
		zap.S().Fatalf("database handle error: %s", err.Error())
	}
	dialect := "postgres"
	if cfg.Database.Type == "sqlite" {
		dialect = "sqlite3"
	}
	link, err := walink.New(sqlDB, dialect)
	if err != nil {
		zap.S().Fatalf("device link init error: %s", err.Error())
	}

	store := session.NewStore(application.DB())
	registry := session.NewRegistry()
	broadcaster := session.NewBroadcaster()
	defer broadcaster.Close()

	// sys_config rows seeded at bootstrap take precedence over the YAML
	// values, so the intervals stay tunable without a config file rollout.
	settingSeconds := func(name string, fallback int) time.Duration {
		if v := application.GetSettingsInt64Value("whatsapp", name); v > 0 {
			return time.Duration(v) * time.Second
		}
		return time.Duration(fallback) * time.Second
	}

	supervisor := session.NewSupervisor(store, registry, link, broadcaster, session.LocalOwner(), session.Config{
		Cooldown:    settingSeconds("ConnectCooldownSeconds", cfg.Whatsapp.ConnectCooldown),
		QRTimeout:   settingSeconds("QrTimeoutSeconds", cfg.Whatsapp.QrTimeout),
		ConnectWait: settingSeconds("ConnectWaitSeconds", cfg.Whatsapp.ConnectWait),
	})
	gateway := session.NewGateway(store, registry)
	gateway.SetMaxChars(int(application.GetSettingsInt64Value("whatsapp", "MaxMessageLength")))

	monitor := session.NewMonitor(supervisor, store, registry, session.MonitorConfig{
		HeartbeatInterval: settingSeconds("HeartbeatIntervalSeconds", cfg.Whatsapp.HeartbeatInterval),
		StaleThreshold:    settingSeconds("StaleThresholdSeconds", cfg.Whatsapp.StaleThreshold),
		SweepInterval:     settingSeconds("MonitorIntervalSeconds", cfg.Whatsapp.MonitorInterval),
		SweepWorkers:      cfg.Whatsapp.SweepWorkers,
	})
	monitor.Start(ctx)

	// Reconnect sessions that were live before the last shutdown.
	go monitor.Sweep(ctx)

	server := webserver.Init(cfg)
	adminapi.Setup(application, supervisor, gateway, store)

	errch := make(chan error, 1)
	go func() {
		errch <- server.Start()
	}()

	select {
	case err := <-errch:
		zap.S().Fatalf("web server stopped: %s", err.Error())
	case <-ctx.Done():
		zap.L().Info("shutdown signal received")
	}
}
