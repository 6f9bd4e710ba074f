package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradesafe/perp-sentinel/internal/config"
	sentinelerrors "github.com/tradesafe/perp-sentinel/internal/errors"
	"github.com/tradesafe/perp-sentinel/internal/exchange"
	"github.com/tradesafe/perp-sentinel/internal/exchange/bybit"
	"github.com/tradesafe/perp-sentinel/internal/executor"
	"github.com/tradesafe/perp-sentinel/internal/journal"
	"github.com/tradesafe/perp-sentinel/internal/logger"
	"github.com/tradesafe/perp-sentinel/internal/notifications"
	"github.com/tradesafe/perp-sentinel/internal/risk"
	"github.com/tradesafe/perp-sentinel/internal/safety"
)

// trade is the one-shot order entry tool: validate a trade proposal against
// the live market, and if it passes every rule, open it with protection
// attached. The guardian (cmd/sentinel) supervises whatever this opens.
func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., sentinel.json)")
		envFile    = flag.String("env", ".env", "Environment file path")
		symbol     = flag.String("symbol", "", "Symbol to trade (e.g., BTCUSDT)")
		sideFlag   = flag.String("side", "", "Order side: buy or sell")
		notional   = flag.Float64("notional", 0, "Position size in quote currency (USD)")
		qtyFlag    = flag.Float64("qty", 0, "Position size in base currency (overrides -notional)")
		leverage   = flag.Float64("leverage", 0, "Leverage (defaults to risk.max_leverage)")
		stopPct    = flag.Float64("stop", 0, "Stop distance as a fraction of entry (defaults to risk.default_stop_distance_pct)")
		dryRun     = flag.Bool("dry", false, "Evaluate only, submit nothing")
	)
	flag.Parse()

	if *configFile == "" || *symbol == "" {
		log.Fatal("Both -config and -symbol are required")
	}

	var side exchange.Side
	switch strings.ToLower(*sideFlag) {
	case "buy", "long":
		side = exchange.SideBuy
	case "sell", "short":
		side = exchange.SideSell
	default:
		log.Fatalf("Invalid -side %q, want buy or sell", *sideFlag)
	}

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s (%v), using process environment", *envFile, err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	key, secret, err := config.Credentials()
	if err != nil {
		log.Fatalf("Missing credentials: %v", err)
	}

	bybitGw := bybit.NewGateway(bybit.Config{
		APIKey:    key,
		APISecret: secret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	})
	gw := safety.NewGuardedGateway(bybitGw)

	if *leverage == 0 {
		*leverage = cfg.Risk.MaxLeverage
	}
	if *stopPct == 0 {
		*stopPct = cfg.Risk.DefaultStopDistancePct
	}

	lg, err := logger.NewLogger("trade")
	if err != nil {
		log.Fatalf("Failed to open log: %v", err)
	}

	var rec journal.Recorder = journal.NopRecorder{}
	if cfg.Journal.Enabled {
		if sqlite, err := journal.OpenSQLite(cfg.Journal.DBPath); err != nil {
			lg.Error("journal unavailable, continuing without: %v", err)
		} else {
			rec = sqlite
		}
	}

	code := run(cfg, gw, bybitGw, lg, rec, tradeArgs{
		symbol:   *symbol,
		side:     side,
		notional: *notional,
		qty:      *qtyFlag,
		leverage: *leverage,
		stopPct:  *stopPct,
		dryRun:   *dryRun,
	})

	// os.Exit skips defers, so release these explicitly.
	rec.Close()
	lg.Close()
	os.Exit(code)
}

type tradeArgs struct {
	symbol   string
	side     exchange.Side
	notional float64
	qty      float64
	leverage float64
	stopPct  float64
	dryRun   bool
}

func run(cfg *config.Config, gw exchange.Gateway, bybitGw *bybit.Gateway, lg *logger.Logger, rec journal.Recorder, args tradeArgs) int {
	var notifier notifications.Notifier = notifications.NopNotifier{}
	if n := cfg.Notifications; n != nil && n.Enabled && n.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(n.TelegramToken, n.TelegramChat)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	snap, err := risk.BuildSnapshot(ctx, gw, args.symbol, cfg.Risk.TrendInterval, cfg.Risk.TrendEMAPeriod)
	if err != nil {
		lg.Error("snapshot for %s failed: %v", args.symbol, err)
		return 1
	}

	limits, err := gw.GetInstrumentLimits(ctx, args.symbol)
	if err != nil {
		lg.Error("instrument limits for %s failed: %v", args.symbol, err)
		return 1
	}

	// Size in base currency, capped against the thin side of the book so
	// both the entry and a later emergency exit stay fillable.
	qty := args.qty
	if qty <= 0 {
		qty = args.notional / snap.LastPrice
	}
	liqCap := risk.LiquidityCap(snap.Depth, 5, cfg.Risk.LiquidityCapPct)
	qty = risk.ClampQuantity(qty, liqCap, limits)
	if qty == 0 {
		lg.Error("%s order size untradeable: below instrument minimum or book too thin (cap %.8f)", args.symbol, liqCap)
		return 1
	}

	intent := risk.TradeIntent{
		Symbol:          args.symbol,
		Side:            args.side,
		Leverage:        args.leverage,
		Quantity:        qty,
		StopDistancePct: args.stopPct,
	}

	validator := risk.NewValidator(risk.Config{
		MinVolumeUSD:    cfg.Risk.MinVolumeUSD,
		MaxSpreadPct:    cfg.Risk.MaxSpreadPct,
		MaxFundingRate:  cfg.Risk.MaxFundingRate,
		MinImbalance:    cfg.Risk.MinOrderbookImbalance,
		OrderbookLevels: cfg.Risk.OrderbookLevels,
		TrendEMAPeriod:  cfg.Risk.TrendEMAPeriod,
		MaxLeverage:     cfg.Risk.MaxLeverage,
		MaxLossUSD:      cfg.Risk.MaxLossPerTradeUSD,
		LiquidityCapPct: cfg.Risk.LiquidityCapPct,
		SnapshotMaxAge:  cfg.Risk.SnapshotMaxAge.Std(),
	})

	approval, err := validator.Evaluate(intent, snap)
	if err != nil {
		lg.Warning("%s %s rejected: %v", args.symbol, args.side, err)
		if rerr := rec.Record(journal.NewEvent(args.symbol, journal.KindRejection, err.Error())); rerr != nil {
			lg.Error("failed to journal rejection: %v", rerr)
		}
		fmt.Printf("REJECTED: %v\n", err)
		return 1
	}

	d := approval.Decision()
	fmt.Printf("Approved %s %s: qty=%.8f entry≈%.4f stop=%.4f risk=$%.2f\n",
		args.side, args.symbol, d.Quantity, d.EntryPrice, d.StopPrice, d.RiskUSD)

	if args.dryRun {
		fmt.Println("Dry run, nothing submitted.")
		return 0
	}

	if err := bybitGw.SetLeverage(ctx, args.symbol, args.leverage); err != nil {
		lg.Warning("failed to set %s leverage to %.0fx: %v", args.symbol, args.leverage, err)
	}

	ex := executor.New(gw, executor.Config{
		ProtectionRetries: cfg.Executor.ProtectionRetries,
		ProtectionBackoff: cfg.Executor.ProtectionBackoff.Std(),
		UseCompoundOrders: cfg.Executor.UseCompoundOrders,
		OrderTimeout:      cfg.Executor.OrderTimeout.Std(),
	}, lg, rec)

	receipt, err := ex.Execute(ctx, approval)
	if err != nil {
		lg.Error("execution of %s %s failed: %v", args.symbol, args.side, err)
		if sev := sentinelerrors.SeverityOf(err); sev == sentinelerrors.SeverityCritical || sev == sentinelerrors.SeverityFatal {
			notifier.SendAlert("critical", fmt.Sprintf("Execution failure on %s: %v", args.symbol, err))
		}
		fmt.Printf("FAILED: %v\n", err)
		return 1
	}

	protective := receipt.ProtectiveOrderID
	if receipt.Compound {
		protective = "(attached to entry)"
	}
	fmt.Printf("Filled: entry=%s protection=%s\n", receipt.EntryOrderID, protective)
	return 0
}
