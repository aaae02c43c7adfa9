// comcore-server is the Comcore protocol engine: a TLS listener speaking
// the newline-delimited JSON client protocol, plus the orthogonal static
// HTTP site. SIGINT triggers a graceful shutdown: stop accepting, drain
// connections, close the static site, close the Store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comcore-chat/comcore/internal/codemgr"
	"github.com/comcore-chat/comcore/internal/config"
	"github.com/comcore-chat/comcore/internal/consts"
	"github.com/comcore-chat/comcore/internal/dispatcher"
	"github.com/comcore-chat/comcore/internal/listener"
	"github.com/comcore-chat/comcore/internal/logger"
	"github.com/comcore-chat/comcore/internal/mailer"
	"github.com/comcore-chat/comcore/internal/registry"
	"github.com/comcore-chat/comcore/internal/securemem"
	"github.com/comcore-chat/comcore/internal/store/sqlitestore"
	"github.com/comcore-chat/comcore/internal/webstatic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "comcore-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.GetConfigPath(), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Global().WithPrefix("main")
	defer logger.Global().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := sqlitestore.New(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := st.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	var mail mailer.Mailer = mailer.NewLogMailer()
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	}

	codes := codemgr.NewManager(mail)
	reg := registry.New(st)
	disp := dispatcher.New(st, codes, reg, cfg.UploadDir, cfg.MaxUploadSize)

	lst := listener.New(cfg, st, disp, reg)
	if err := lst.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	web := webstatic.New(cfg, disp)
	web.Start()

	log.Info("comcore-server running")
	<-ctx.Done()
	log.Info("shutdown requested")

	// Each shutdown step is attempted even if the previous one failed.
	lst.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), consts.ShutdownGrace)
	web.Stop(drainCtx)
	cancel()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Close(closeCtx); err != nil {
		log.Error("close store: %v", err)
	}

	securemem.Purge()
	log.Info("comcore-server stopped")
	return nil
}
