package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalapanel/lalapanel/internal/modules/database"
	"github.com/lalapanel/lalapanel/internal/modules/hosting"
	"github.com/lalapanel/lalapanel/internal/modules/iam"
	"github.com/lalapanel/lalapanel/internal/modules/sysusers"
	"github.com/lalapanel/lalapanel/internal/platform/config"
	"github.com/lalapanel/lalapanel/internal/platform/httpserver"
	"github.com/lalapanel/lalapanel/internal/platform/logger"
	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

//nolint:gochecknoglobals
var version = "unknown"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		runAdmin(os.Args[2:])
		return
	}
	runServer()
}

func runServer() {
	cfg, err := config.New(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		log.Fatalf("failed to read app config: %v", err)
	}

	zlog, err := logger.New(version, cfg.Env, cfg.Logger.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	reg, err := registry.Open(ctx, cfg.DataDir)
	if err != nil {
		zlog.Error("failed to open registry", zap.Error(err))
		return
	}
	defer reg.Close() //nolint:errcheck

	runner := systemd.ExecRunner{}

	renderer := hosting.NewRenderer(cfg.Hosting.LogDir, cfg.Certs.LiveDir)
	activator := hosting.NewActivator(runner, zlog, hosting.ActivatorOptions{
		AvailableDir: cfg.Hosting.AvailableDir,
		EnabledDir:   cfg.Hosting.EnabledDir,
		ServiceName:  cfg.Hosting.NginxService,
	})
	issuer := hosting.NewCertbotIssuer(runner, zlog, hosting.CertbotIssuerOptions{
		CertbotPath: cfg.Certs.CertbotPath,
		Email:       cfg.Certs.Email,
		LiveDir:     cfg.Certs.LiveDir,
	})
	installer := hosting.NewManualCertInstaller(cfg.Certs.LiveDir)
	mariadb := database.NewMariaDBAdapter(runner, database.MariaDBAdapterOptions{
		BinaryPath:  cfg.MariaDB.BinaryPath,
		ServiceName: cfg.MariaDB.Service,
	})

	hostingSvc := hosting.NewService(reg, zlog, renderer, activator, issuer, installer, mariadb,
		hosting.ServiceOptions{
			SitesDir:    cfg.Hosting.SitesDir,
			LogDir:      cfg.Hosting.LogDir,
			PHPVersions: cfg.Hosting.PHPVersions,
		})
	if err := hostingSvc.Bootstrap(ctx); err != nil {
		zlog.Error("failed to bootstrap hosting", zap.Error(err))
		return
	}

	databaseSvc := database.NewService(reg, zlog, mariadb)
	sysusersSvc := sysusers.NewService(reg, zlog, runner, cfg.Hosting.SitesDir)
	authSvc := iam.NewService(reg, zlog, iam.Options{
		SessionTTL:       cfg.Auth.SessionTTL,
		MaxLoginAttempts: cfg.Auth.MaxLoginAttempts,
		AttemptWindow:    cfg.Auth.AttemptWindow,
	})

	srv := httpserver.New(zlog, cfg, reg, authSvc, runner,
		hosting.NewHandler(hostingSvc),
		database.NewHandler(databaseSvc),
		sysusers.NewHandler(sysusersSvc))

	gr, appctx := errgroup.WithContext(ctx)
	gr.Go(func() error {
		return srv.Serve(appctx)
	})

	if err := gr.Wait(); err != nil {
		zlog.Error("application exited with error", zap.Error(err))
	}
}

func runAdmin(args []string) {
	if len(args) == 0 || args[0] != "create" {
		fmt.Fprintln(os.Stderr, "usage: lalapanel admin create --username <name> --password <password>")
		os.Exit(2)
	}
	fs := flag.NewFlagSet("admin create", flag.ExitOnError)
	username := fs.String("username", "", "admin username")
	password := fs.String("password", "", "admin password")
	dataDir := fs.String("data-dir", "/etc/lalapanel", "panel data directory")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "username and password are required")
		os.Exit(2)
	}

	ctx := context.Background()
	reg, err := registry.Open(ctx, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close() //nolint:errcheck

	authSvc := iam.NewService(reg, zap.NewNop(), iam.Options{})
	if _, err := authSvc.CreateAdmin(ctx, *username, *password); err != nil {
		fmt.Fprintf(os.Stderr, "create admin: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("admin user created")
}
