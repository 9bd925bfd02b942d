package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/graphshift/mgmigrate/internal/pipeline"
	"github.com/graphshift/mgmigrate/pkg/config"
	"github.com/graphshift/mgmigrate/pkg/logger"

	// Import all connectors to register them
	_ "github.com/graphshift/mgmigrate/pkg/source/memgraph"
	_ "github.com/graphshift/mgmigrate/pkg/source/mysql"
	_ "github.com/graphshift/mgmigrate/pkg/source/postgresql"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var (
		sourceKind      string
		sourceHost      string
		sourcePort      int
		sourceUsername  string
		sourcePassword  string
		sourceDatabase  string
		sourceUseSSL    bool
		destinationHost string
		destinationPort int
		destUseSSL      bool
		batchSize       int
		maxConcurrency  int
		logLevel        string
		onUnresolved    string
	)

	root := &cobra.Command{
		Use:           "mg_migrate",
		Short:         "Migrate a relational or graph database into Memgraph",
		Long: `mg_migrate connects to a PostgreSQL, MySQL or Memgraph source, reads its
schema and contents, and loads an equivalent property graph into a destination
Memgraph instance, including Exists and Unique constraints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "json"}); err != nil {
				return err
			}

			kind, err := config.ParseSourceKind(sourceKind)
			if err != nil {
				return err
			}
			policy, err := config.ParseUnresolvedPolicy(onUnresolved)
			if err != nil {
				return err
			}

			cfg := config.NewMigrationConfig()
			cfg.Source.Kind = kind
			cfg.Source.Host = sourceHost
			cfg.Source.Port = sourcePort
			if cfg.Source.Port == 0 {
				cfg.Source.Port = config.DefaultSourcePort(kind)
			}
			cfg.Source.Username = sourceUsername
			cfg.Source.Password = sourcePassword
			cfg.Source.Database = sourceDatabase
			cfg.Source.UseSSL = sourceUseSSL
			cfg.Destination.Host = destinationHost
			cfg.Destination.Port = destinationPort
			cfg.Destination.UseSSL = destUseSSL
			cfg.Performance.BatchSize = batchSize
			cfg.Performance.MaxConcurrency = maxConcurrency
			cfg.Reliability.OnUnresolved = policy

			return runMigration(cmd.Context(), cfg)
		},
	}

	flags := root.Flags()
	flags.StringVar(&sourceKind, "source-kind", "", "source database kind: memgraph, mysql or postgresql")
	flags.StringVar(&sourceHost, "source-host", "127.0.0.1", "source host")
	flags.IntVar(&sourcePort, "source-port", 0, "source port (defaults to the kind's conventional port)")
	flags.StringVar(&sourceUsername, "source-username", "", "source username")
	flags.StringVar(&sourcePassword, "source-password", "", "source password")
	flags.StringVar(&sourceDatabase, "source-database", "", "source database name (relational sources)")
	flags.BoolVar(&sourceUseSSL, "source-use-ssl", false, "connect to the source over SSL")
	flags.StringVar(&destinationHost, "destination-host", "127.0.0.1", "destination Memgraph host")
	flags.IntVar(&destinationPort, "destination-port", 7687, "destination Memgraph port")
	flags.BoolVar(&destUseSSL, "destination-use-ssl", false, "connect to the destination over SSL")
	flags.IntVar(&batchSize, "batch-size", 1000, "records per destination write")
	flags.IntVar(&maxConcurrency, "max-concurrency", 4, "tables migrated in parallel")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&onUnresolved, "on-unresolved", "skip", "relationships with missing endpoints: skip or fail")
	_ = root.MarkFlagRequired("source-kind")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mg_migrate v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMigration(ctx context.Context, cfg *config.MigrationConfig) error {
	migration, err := pipeline.New(cfg)
	if err != nil {
		return err
	}

	summary := migration.Run(ctx)
	printSummary(summary)
	defer logger.Sync()

	if summary.Err != nil {
		return summary.Err
	}
	return nil
}

// printSummary writes the run summary to stderr, keeping stdout clean.
func printSummary(s *pipeline.Summary) {
	log := logger.Get()
	log.Info("migration finished",
		zap.String("phase", s.Phase.String()),
		zap.Int("constraints_created", s.ConstraintsCreated),
		zap.Int("constraints_existing", s.ConstraintsExisted),
		zap.Int64("entities_attempted", s.Entities.Attempted),
		zap.Int64("entities_written", s.Entities.Written),
		zap.Int64("entities_skipped", s.Entities.Skipped),
		zap.Int64("relationships_attempted", s.Relationships.Attempted),
		zap.Int64("relationships_written", s.Relationships.Written),
		zap.Int64("relationships_skipped", s.Relationships.Skipped),
	)
	for _, rec := range s.Entities.SkippedRecords {
		log.Warn("skipped entity", zap.String("record", rec))
	}
	for _, rec := range s.Relationships.SkippedRecords {
		log.Warn("skipped relationship", zap.String("record", rec))
	}
}
