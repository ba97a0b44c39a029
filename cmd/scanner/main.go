package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"privacyguard/internal/config"
	"privacyguard/internal/domain/models"
	"privacyguard/internal/domain/services"
	"privacyguard/internal/infrastructure/database/memory"
	"privacyguard/internal/infrastructure/database/sqlite"
	"privacyguard/internal/inventory"
	"privacyguard/internal/sources/premium"
	"privacyguard/pkg/logger"
)

// report is the -json output
type report struct {
	Summary *models.ScanSummary        `json:"summary"`
	Apps    []models.ApplicationRecord `json:"apps"`
}

func main() {
	var (
		configPath    = flag.String("config", "", "Path to config file")
		inventoryPath = flag.String("inventory", "", "Path to inventory file (YAML or JSON)")
		dbPath        = flag.String("db", "", "SQLite database path (overrides sqlite.path)")
		dryRun        = flag.Bool("dry-run", false, "Score in memory without touching the database")
		checkMalware  = flag.Bool("malware", false, "Look up malware verdicts for apps without one")
		forceMalware  = flag.Bool("force-malware", false, "Refresh malware verdicts even when already known")
		asJSON        = flag.Bool("json", false, "Print a machine-readable report")
		top           = flag.Int("top", 10, "Number of riskiest apps to list (0 = all)")
	)
	flag.Parse()

	if *inventoryPath == "" {
		fmt.Fprintln(os.Stderr, "-inventory is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
		Output:     os.Stderr,
	}).WithComponent("scanner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		inventoryPath: *inventoryPath,
		dbPath:        *dbPath,
		dryRun:        *dryRun,
		checkMalware:  *checkMalware || *forceMalware,
		forceMalware:  *forceMalware,
		asJSON:        *asJSON,
		top:           *top,
	}); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

type options struct {
	inventoryPath string
	dbPath        string
	dryRun        bool
	checkMalware  bool
	forceMalware  bool
	asJSON        bool
	top           int
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, opts options) error {
	snap, err := inventory.NewFileProvider(opts.inventoryPath).Load(ctx)
	if err != nil {
		return err
	}

	var store services.AppStore
	if opts.dryRun {
		store = memory.NewStore()
	} else {
		path := cfg.SQLite.Path
		if opts.dbPath != "" {
			path = opts.dbPath
		}
		db, err := sqlite.Open(ctx, path, log)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
	}

	scorer := services.NewRiskScorer(
		services.NewPermissionClassifier(nil, log),
		services.NewTrackerCatalog(),
		services.NewRuleEngine(),
	)
	merger := services.NewScanMerger(
		store,
		scorer,
		services.NewContentHasher(log),
		services.NewSafetyAggregator(),
		services.ScanMergerConfig{
			ProgressCadence: cfg.Scan.ProgressCadence,
			Workers:         cfg.Scan.Workers,
		},
		log,
	)

	var scanOpts []services.ScanOption
	if src := snap.LevelSource(); src != nil {
		scanOpts = append(scanOpts, services.WithProtectionLevels(src))
	}

	summary, err := merger.RescanAndWait(ctx, snap.Apps, func(p models.ScanProgress) {
		log.Info().
			Int("index", p.Index).
			Int("total", p.Total).
			Float64("fraction", p.Fraction).
			Msg("scan progress")
	}, scanOpts...)
	if err != nil {
		return err
	}

	if opts.checkMalware {
		if err := checkVerdicts(ctx, cfg, store, log, opts.forceMalware); err != nil {
			return err
		}
	}

	records, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	summary.Device = services.NewSafetyAggregator().AggregateRecords(records)

	if opts.top > 0 && len(records) > opts.top {
		records = records[:opts.top]
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report{Summary: summary, Apps: records})
	}
	printReport(summary, records)
	return nil
}

func checkVerdicts(ctx context.Context, cfg *config.Config, store services.AppStore, log *logger.Logger, force bool) error {
	if cfg.VirusTotal.APIKey == "" {
		log.Warn().Msg("virustotal.api_key not set, skipping malware lookups")
		return nil
	}

	vt := premium.NewVirusTotalClient(cfg.VirusTotal, nil, log)
	verdicts := services.NewMalwareVerdictService(store, vt, cfg.VirusTotal.Timeout, log)

	records, err := store.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rec.ContentHash == "" {
			continue
		}
		if _, err := verdicts.Check(ctx, rec.PackageName, force); err != nil {
			return fmt.Errorf("malware check %s: %w", rec.PackageName, err)
		}
	}
	return nil
}

func printReport(summary *models.ScanSummary, records []models.ApplicationRecord) {
	d := summary.Device
	fmt.Printf("Scan %s: %d apps in %s\n", summary.ScanID, summary.AppCount, summary.Duration().Round(time.Millisecond))
	fmt.Printf("Device safety: %d/100 (%s)\n", d.SafetyScore, d.Status)
	fmt.Printf("  %s\n", d.Summary)
	fmt.Printf("  high=%d medium=%d low=%d user-app threats=%d\n\n",
		d.HighRiskCount, d.MediumRiskCount, d.LowRiskCount, d.UserAppThreats)

	if len(records) == 0 {
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tLEVEL\tPACKAGE\tMALWARE\tALERTS")
	for _, r := range records {
		malware := "-"
		if r.DetectionRatio != nil {
			malware = *r.DetectionRatio
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", r.RiskScore, r.RiskLevel, r.PackageName, malware, len(r.Alerts))
	}
	tw.Flush()
}
