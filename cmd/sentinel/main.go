package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"

	"github.com/tradesafe/perp-sentinel/internal/budget"
	"github.com/tradesafe/perp-sentinel/internal/config"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/exchange/bybit"
	"github.com/tradesafe/perp-sentinel/internal/guardian"
	"github.com/tradesafe/perp-sentinel/internal/journal"
	"github.com/tradesafe/perp-sentinel/internal/logger"
	"github.com/tradesafe/perp-sentinel/internal/monitoring"
	"github.com/tradesafe/perp-sentinel/internal/notifications"
	"github.com/tradesafe/perp-sentinel/internal/safety"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., sentinel.json)")
		envFile    = flag.String("env", ".env", "Environment file path")
		audit      = flag.Bool("audit", false, "Print a one-shot protection audit table and exit")
		report     = flag.Bool("report", false, "Write the session journal report and exit")
	)
	flag.Parse()

	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s (%v), using process environment", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *report {
		if err := writeReport(cfg); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		return
	}

	key, secret, err := config.Credentials()
	if err != nil {
		log.Fatalf("Missing credentials: %v", err)
	}

	gw := safety.NewGuardedGateway(bybit.NewGateway(bybit.Config{
		APIKey:    key,
		APISecret: secret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	}))

	if *audit {
		if err := printAudit(gw); err != nil {
			log.Fatalf("Audit failed: %v", err)
		}
		return
	}

	os.Exit(run(cfg, gw))
}

func run(cfg *config.Config, gw exchange.Gateway) int {
	lg, err := logger.NewLogger("guardian")
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}
	defer lg.Close()

	var rec journal.Recorder = journal.NopRecorder{}
	var sqlite *journal.SQLiteRecorder
	if cfg.Journal.Enabled {
		sqlite, err = journal.OpenSQLite(cfg.Journal.DBPath)
		if err != nil {
			lg.Error("journal unavailable, continuing without: %v", err)
		} else {
			rec = sqlite
			defer sqlite.Close()
		}
	}

	bud, err := budget.Load(cfg.Budget.StateFile, cfg.Budget.DailyBudgetUSD, cfg.Budget.MaxLossPct)
	if err != nil {
		lg.Error("failed to load session budget: %v", err)
		return 1
	}
	if bud.KillTriggered() {
		lg.Critical("session kill-switch already fired today, refusing to start")
		return 2
	}

	var notifier notifications.Notifier = notifications.NopNotifier{}
	if n := cfg.Notifications; n != nil && n.Enabled && n.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(n.TelegramToken, n.TelegramChat)
	}

	metrics := monitoring.NewMetrics()

	killCh := make(chan struct{})
	guard := guardian.New(gw, guardian.Config{
		Interval:            cfg.Guardian.Interval.Std(),
		StepTimeout:         cfg.Guardian.StepTimeout.Std(),
		MaxProtectionFails:  cfg.Guardian.MaxProtectionFails,
		BreakevenTriggerPct: cfg.Guardian.BreakevenTriggerPct,
		TrailActivatePct:    cfg.Guardian.TrailActivatePct,
		FeeBufferPct:        cfg.Guardian.FeeBufferPct,
		TrailDistancePct:    cfg.Guardian.TrailDistancePct,
		EmergencyStopPct:    cfg.Guardian.EmergencyStopPct,
		TrendInterval:       cfg.Guardian.TrendInterval,
		TrendEMAPeriod:      cfg.Guardian.TrendEMAPeriod,
		TrendBreachPct:      cfg.Guardian.TrendBreachPct,
		Symbols:             cfg.Symbols,
	}, lg, rec, bud, metrics, func() {
		notifier.SendAlert("fatal", "Session loss budget breached. All positions closed, trading halted.")
		close(killCh)
	})

	var monServer *monitoring.Server
	if m := cfg.Monitoring; m != nil && m.Enabled {
		monServer = monitoring.NewServer(m.Addr, metrics, func() monitoring.HealthStatus {
			status := "ok"
			if bud.KillTriggered() {
				status = "killed"
			}
			return monitoring.HealthStatus{
				Status:        status,
				DefensiveMode: guard.Defensive(),
				KillTriggered: bud.KillTriggered(),
			}
		})
		monServer.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := guard.Start(ctx); err != nil {
		lg.Error("failed to start guardian: %v", err)
		return 1
	}

	lg.Info("guardian supervising %d symbol(s) every %s on %s", len(cfg.Symbols), cfg.Guardian.Interval, gw.GetName())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		lg.Info("received %s, shutting down", sig)
	case <-killCh:
		lg.Critical("kill-switch fired, terminating")
		exitCode = 2
	}

	cancel()
	guard.Stop()

	if monServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		monServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if sqlite != nil {
		if path, err := journal.WriteSessionReport(sqlite, cfg.Journal.ReportDir); err == nil {
			lg.Info("session report written to %s", path)
		}
	}

	return exitCode
}

// printAudit renders a one-shot protection audit of every open position.
func printAudit(gw exchange.Gateway) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := gw.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Mark", "ROE %", "Protected", "Stop Trigger"})

	for _, pos := range positions {
		orders, err := gw.GetOpenOrders(ctx, pos.Symbol)
		if err != nil {
			return fmt.Errorf("order query for %s: %w", pos.Symbol, err)
		}

		protected := "NO ⚠️"
		trigger := "-"
		for _, o := range orders {
			if o.ProtectsPosition(pos.Side) {
				protected = "yes"
				trigger = fmt.Sprintf("%.4f", o.TriggerPrice)
				break
			}
		}

		t.AppendRow(table.Row{
			pos.Symbol,
			pos.Side,
			fmt.Sprintf("%.6f", pos.Quantity),
			fmt.Sprintf("%.4f", pos.EntryPrice),
			fmt.Sprintf("%.4f", pos.MarkPrice),
			fmt.Sprintf("%.2f", pos.ROE()*100),
			protected,
			trigger,
		})
	}

	if len(positions) == 0 {
		fmt.Println("No open positions.")
		return nil
	}

	t.Render()
	return nil
}

// writeReport renders the journal into an xlsx workbook.
func writeReport(cfg *config.Config) error {
	rec, err := journal.OpenSQLite(cfg.Journal.DBPath)
	if err != nil {
		return err
	}
	defer rec.Close()

	path, err := journal.WriteSessionReport(rec, cfg.Journal.ReportDir)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
