// Command mailvault runs the mailbox credential manager: a web server
// over the account vault, mail retrieval with backend failover, and
// scheduled credential validation. With -validate it runs one validation
// batch on the command line and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/nhle/mailvault/internal/backend/graph"
	"github.com/nhle/mailvault/internal/backend/imapmail"
	"github.com/nhle/mailvault/internal/config"
	"github.com/nhle/mailvault/internal/loginguard"
	"github.com/nhle/mailvault/internal/model"
	"github.com/nhle/mailvault/internal/retrieve"
	"github.com/nhle/mailvault/internal/secret"
	"github.com/nhle/mailvault/internal/store"
	"github.com/nhle/mailvault/internal/token"
	"github.com/nhle/mailvault/internal/validate"
	"github.com/nhle/mailvault/internal/web"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (optional)")
	runValidate := flag.Bool("validate", false, "run one validation batch and exit")
	delay := flag.Int("delay", 5, "seconds between accounts in -validate mode")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrNoMasterSecret) {
			logger.Fatal("refusing to start without a master secret", zap.Error(err))
		}
		logger.Fatal("loading config", zap.Error(err))
	}

	cipher, err := secret.New(cfg.MasterSecret)
	if err != nil {
		logger.Fatal("initializing cipher", zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		logger.Fatal("creating data directory", zap.Error(err))
	}
	st, err := store.NewSQLiteStore(cfg.DBPath, cipher)
	if err != nil {
		logger.Fatal("opening store", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := token.NewClient()
	runner := validate.NewRunner(st, cipher, tokens, logger)

	if *runValidate {
		if err := validateOnce(ctx, st, runner, *delay); err != nil {
			logger.Fatal("validation run failed", zap.Error(err))
		}
		return
	}

	engine := retrieve.New(
		tokens,
		graph.NewClient(""),
		imapmail.NewClient(imapmail.ModernAddr),
		imapmail.NewClient(imapmail.LegacyAddr),
		logger,
	)

	scheduler := validate.NewScheduler(st, runner, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := web.New(st, engine, runner, loginguard.New(), cfg.AdminPassword, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// validateOnce runs a single manual validation batch over all active
// accounts, printing progress to stdout.
func validateOnce(ctx context.Context, st store.Store, runner *validate.Runner, delay int) error {
	active := model.StatusActive
	accounts, err := st.ListAccounts(ctx, store.AccountFilter{Status: &active})
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		fmt.Println(dimStyle.Render("no active accounts to validate"))
		return nil
	}

	failed := map[string]bool{}
	sink := validate.SinkFunc(func(e validate.Event) {
		switch e.Kind {
		case validate.EventStart:
			fmt.Printf("validating %d accounts (delay %ds)\n", e.Total, e.DelaySeconds)
		case validate.EventProgress:
			mark := okStyle.Render("ok")
			if e.Failed > len(failed) {
				failed[e.Email] = true
				mark = failStyle.Render("failed")
			}
			fmt.Printf("[%d/%d] %s %s\n", e.Index, e.Total, e.Email, mark)
		case validate.EventComplete:
			fmt.Printf("done: %d succeeded, %d failed\n", e.Succeeded, e.Failed)
			for _, email := range e.FailedList {
				fmt.Println(dimStyle.Render("  failed: " + email))
			}
		}
	})

	_, err = runner.Run(ctx, accounts, model.RunManual, delay, sink)
	return err
}
