package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"time"

	"main/internal/bus"
	"main/internal/coordinator"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/org"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/venue"
	"main/internal/venue/mt5"
	"main/pkg/conn"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	signalsPath := flag.String("signals", "", "JSON-lines file of signals to feed through the intake queue")
	closeInstrument := flag.String("close-instrument", "", "Flatten this instrument and exit")
	closeFund := flag.String("close-fund", "", "With -close-instrument, flatten only this fund's allocation")
	profile := flag.Bool("profile", false, "Enable pyroscope profiling")
	profileAddr := flag.String("profile-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		cancel()
	}()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *profile {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "oms",
			ServerAddress:   *profileAddr,
			Tags:            map[string]string{"env": "local"},
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

	store, err := journal.OpenBadger(loaded.Journal.Dir)
	if err != nil {
		log.Fatalf("open journal failed: %v", err)
	}
	defer store.Close()

	dir, cleanup, err := buildDirectory(ctx, loaded)
	if err != nil {
		log.Fatalf("organization store failed: %v", err)
	}
	defer cleanup()

	adapter, err := buildVenue(loaded)
	if err != nil {
		log.Fatalf("venue setup failed: %v", err)
	}

	metrics := obs.NewMetrics()
	gate := risk.NewEngine(loaded.Risk, neutralScorer())

	coord, err := coordinator.Recover(ctx, coordinator.Config{
		Instruments:   loaded.Instruments,
		SnapshotEvery: loaded.Journal.SnapshotEvery,
	}, gate, adapter, store, dir, metrics)
	if err != nil {
		log.Fatalf("ledger recovery failed: %v", err)
	}

	if *closeInstrument != "" {
		runClose(ctx, coord, *closeInstrument, *closeFund)
		return
	}

	queue := bus.NewQueue(loaded.Intake.QueueCapacity)
	done := make(chan struct{})
	go func() {
		defer close(done)
		queue.Run(ctx, func(sig schema.Signal) {
			records, err := coord.Submit(ctx, sig)
			if err != nil {
				logs.Warnf("signal %s rejected: %v", sig.IdempotencyKey, err)
				return
			}
			for _, record := range records {
				if record.Unjournaled() {
					logs.Warnf("trade seq=%d committed but not journaled", record.Seq)
				}
				logs.Infof("trade seq=%d instrument=%s fund=%s qty=%s price=%s ref=%s",
					record.Seq, record.Instrument, record.Fund,
					record.QuantityDelta, record.FillPrice, record.VenueRef)
			}
		})
	}()

	if *signalsPath != "" {
		if err := feedSignals(*signalsPath, queue, metrics); err != nil {
			logs.Errorf("signal feed: %v", err)
		}
		queue.Close()
	}

	select {
	case <-ctx.Done():
		queue.Close()
		<-done
	case <-done:
	}

	if err := store.SaveSnapshot(context.Background(), coord.Book().Snapshot()); err != nil {
		logs.Errorf("final snapshot: %v", err)
	}
	logMetrics(metrics)
}

// buildDirectory loads the organization chart: from PostgreSQL when
// configured, from the config file's fund seed otherwise.
func buildDirectory(ctx context.Context, loaded ops.Loaded) (*org.Directory, func(), error) {
	if loaded.Postgres.Disabled {
		return org.NewDirectory(fundsFromConfig(loaded.Funds)), func() {}, nil
	}

	client, err := conn.New(conn.Option{
		Host:     loaded.Postgres.Host,
		Port:     loaded.Postgres.Port,
		User:     loaded.Postgres.User,
		Password: loaded.Postgres.Password,
		Database: loaded.Postgres.Database,
		SSLMode:  loaded.Postgres.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}

	repo := org.NewRepository(client.DB())
	if err := repo.Migrate(); err != nil {
		client.Close()
		return nil, nil, err
	}

	dir, err := repo.Directory(ctx)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	// First boot against an empty store: seed from the config file.
	if dir.Len() == 0 && len(loaded.Funds) > 0 {
		for _, fund := range fundsFromConfig(loaded.Funds) {
			fund := fund
			if err := repo.SaveFund(ctx, &fund); err != nil {
				client.Close()
				return nil, nil, err
			}
		}
		if dir, err = repo.Directory(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
	}

	return dir, func() { client.Close() }, nil
}

func buildVenue(loaded ops.Loaded) (venue.Adapter, error) {
	switch loaded.Venue.Mode {
	case "mt5":
		return mt5.NewDelegator(mt5.Config{
			BaseURL: loaded.Venue.BaseURL,
			Account: loaded.Venue.Account,
			Secret:  loaded.Venue.Secret,
			Dev:     loaded.Venue.Dev,
		}, nil), nil
	default:
		sim := venue.NewSim()
		for symbol, price := range loaded.SimPrices {
			sim.SetPrice(symbol, price)
		}
		return sim, nil
	}
}

func fundsFromConfig(configs []ops.FundConfig) []org.Fund {
	funds := make([]org.Fund, 0, len(configs))
	for _, cfg := range configs {
		managers := make([]org.PortfolioManager, 0, len(cfg.Managers))
		for _, id := range cfg.Managers {
			managers = append(managers, org.PortfolioManager{ID: id, Name: id, Active: true})
		}
		funds = append(funds, org.Fund{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Currency:       cfg.Currency,
			LiquidityClass: cfg.LiquidityClass,
			Objective:      cfg.Objective,
			MaxExposure:    cfg.MaxExposure,
			ScoreThreshold: cfg.ScoreThreshold,
			Commission:     cfg.Commission,
			Managers:       managers,
			Active:         true,
		})
	}
	return funds
}

// neutralScorer is the plug point for an external risk model. Until one is
// wired it scores every exposure at zero, so only capital limits and the
// kill switch bite.
func neutralScorer() risk.Scorer {
	return risk.ScorerFunc(func(string, schema.Instrument, decimal.Decimal) float64 {
		return 0
	})
}

func feedSignals(path string, queue *bus.Queue, metrics *obs.Metrics) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sig schema.Signal
		if err := sonic.ConfigFastest.Unmarshal(line, &sig); err != nil {
			logs.Warnf("skip malformed signal line: %v", err)
			continue
		}
		if sig.SubmittedAt.IsZero() {
			sig.SubmittedAt = time.Now().UTC()
		}
		if err := queue.TryPublish(sig); err != nil {
			metrics.IncQueueDrop()
			logs.Warnf("drop signal %s: %v", sig.IdempotencyKey, err)
		}
	}
	return scanner.Err()
}

func runClose(ctx context.Context, coord *coordinator.Coordinator, instrument, fund string) {
	key := uuid.New()
	var err error
	var records []schema.TradeRecord
	if fund != "" {
		records, err = coord.CloseFund(ctx, fund, schema.Instrument(instrument), key)
	} else {
		records, err = coord.CloseInstrument(ctx, schema.Instrument(instrument), key)
	}
	if err != nil {
		log.Fatalf("close failed: %v", err)
	}
	for _, record := range records {
		logs.Infof("closed fund=%s qty=%s price=%s ref=%s",
			record.Fund, record.QuantityDelta, record.FillPrice, record.VenueRef)
	}
}

func logMetrics(metrics *obs.Metrics) {
	snapshot := metrics.Snapshot()
	logs.Infof("accepted=%d records=%d queue_drops=%d poisoned=%d rejected=%v risk=%v venue_avg=%s submit_avg=%s",
		snapshot.Accepted, snapshot.Records, snapshot.QueueDrops, snapshot.Poisoned,
		snapshot.Rejected, snapshot.RiskEvals,
		snapshot.VenueLatency.Avg, snapshot.SubmitLatency.Avg)
}
