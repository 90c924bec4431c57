package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/client"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/recovery"
	"main/internal/state"
	"main/internal/trader"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	stateDir := flag.String("state-dir", "", "Override the state directory")
	resume := flag.Bool("recover", false, "Resume session counters from the last checkpoint")
	clearBreach := flag.Bool("clear-breach", false, "Clear a persisted risk breach and exit")
	preview := flag.Int("preview", 0, "Print the next N recovery stakes and exit")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *stateDir != "" {
		loaded.StateDir = *stateDir
	}

	store := state.NewStore(loaded.StateDir)
	if *clearBreach {
		if err := store.ClearBreach(); err != nil {
			log.Fatalf("clear breach failed: %v", err)
		}
		log.Println("breach record cleared")
		return
	}

	engine, err := recovery.New(recovery.Config{
		BaseStake:      loaded.Recovery.BaseStake,
		Risk:           recovery.RiskLevel(loaded.Recovery.Risk),
		Mode:           recovery.Mode(loaded.Recovery.Mode),
		Strategy:       loaded.Trading.Strategy,
		MaxStake:       loaded.Recovery.MaxStake,
		SessionLossPct: loaded.Recovery.SessionLossPct,
		PauseAfter:     loaded.Recovery.PauseAfter,
		PauseCooldown:  loaded.PauseCooldown,
		Store:          store,
	})
	if err != nil {
		log.Fatalf("recovery engine init failed: %v", err)
	}

	if *preview > 0 {
		for _, level := range engine.StakePreview(*preview) {
			log.Printf("level %d: stake %.2f (cumulative %.2f)", level.Level, level.Stake, level.Cumulative)
		}
		return
	}

	token := loaded.Token
	if token == "" {
		log.Fatal("DERIV_TOKEN is not set")
	}

	if addr := loaded.Obs.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trading-bot",
			ServerAddress:   addr,
			Tags: map[string]string{
				"symbol": loaded.Trading.Symbol,
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if addr := loaded.Obs.MetricsAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logs.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	var trades *journal.Journal
	if loaded.Journal != nil {
		trades, err = journal.Open(*loaded.Journal)
		if err != nil {
			log.Fatalf("journal open failed: %v", err)
		}
		defer func() {
			_ = trades.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.New(client.Config{
		Endpoint: loaded.Endpoint,
		AppID:    loaded.AppID,
	})
	api.SetBalanceFunc(engine.UpdateBalance)
	if err := api.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer api.Disconnect()

	if err := api.Authorize(ctx, token); err != nil {
		log.Fatalf("authorize failed: %v", err)
	}

	bot := trader.New(api, engine, trader.MomentumSource{}, trader.DefaultConfidenceFilter(), store)
	bot.SetJournal(trades)
	bot.SetTradeClosedFunc(func(r trader.TradeResult) {
		logs.Infof("trade closed: contract=%d win=%v profit=%.2f balance=%.2f (%d/%d won)",
			r.ContractID, r.Win, r.Profit, r.Balance, r.Wins, r.Trades)
	})
	done := make(chan trader.Summary, 1)
	bot.SetSessionDoneFunc(func(s trader.Summary) {
		select {
		case done <- s:
		default:
		}
	})

	if *resume && bot.RecoverSession() {
		logs.Info("resuming previous session from checkpoint")
	}

	if err := bot.Start(ctx, trader.Config{
		Symbol:       loaded.Trading.Symbol,
		Strategy:     loaded.Trading.Strategy,
		TargetTrades: loaded.Trading.TargetTrades,
		Duration:     loaded.Trading.Duration,
		DurationUnit: loaded.Trading.DurationUnit,
		TakeProfit:   loaded.Trading.TakeProfit,
		StopLoss:     loaded.Trading.StopLoss,
	}); err != nil {
		log.Fatalf("session start failed: %v", err)
	}

	var summary trader.Summary
	select {
	case <-sys.Shutdown():
		logs.Info("shutdown requested")
		bot.Stop()
		summary = <-done
	case <-ctx.Done():
		logs.Info("shutdown signal received")
		bot.Stop()
		summary = <-done
	case summary = <-done:
	}

	logs.Infof("session summary: %s | %d trades, %d won, win rate %.0f%%, profit %.2f (%.2f -> %.2f)",
		summary.StopReason, summary.Trades, summary.Wins, summary.WinRate*100,
		summary.Profit, summary.StartingBalance, summary.FinalBalance)
}
