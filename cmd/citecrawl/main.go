// Command citecrawl runs one worker of the distributed citation-graph
// crawler: it walks the shared frontier, fetches citation batches from the
// scholarly API, and writes edges and processed-paper records to Postgres.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/D3prave/citecrawl/internal/config"
	"github.com/D3prave/citecrawl/internal/crawl"
	"github.com/D3prave/citecrawl/internal/export"
	"github.com/D3prave/citecrawl/internal/frontier"
	"github.com/D3prave/citecrawl/internal/oracle"
	"github.com/D3prave/citecrawl/internal/scholarly"
	"github.com/D3prave/citecrawl/internal/store"
)

// Bloom filter sizing from spec §4.1: large enough for the expected corpus
// with a low false-positive rate.
const (
	processedFilterKey       = "citecrawl:bf_processed"
	queuedFilterKey          = "citecrawl:bf_queued"
	bloomCapacity      int64 = 100_000_000
	processedErrorRate       = 1e-6
	queuedErrorRate          = 1e-5

	commitEvery = 5
)

var fresh bool
var resume bool
var apiKey string
var apiBaseURL string
var dbDSN string
var redisAddr string

var rootCmd = &cobra.Command{
	Use:   "citecrawl [seed-paper-ids...]",
	Short: "Crawl the citation graph of a scholarly API, breadth-first",
	Args:  cobra.ArbitraryArgs,
	RunE:  runCrawl,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the crawled citation graph and processed papers as CSV",
	RunE:  runExport,
}

func init() {
	rootCmd.Flags().BoolVar(&fresh, "fresh", false, "start a new crawl, wiping any existing state")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "resume a crawl against existing state")
	rootCmd.MarkFlagsMutuallyExclusive("fresh", "resume")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "scholarly API key (or CITECRAWL_API_KEY)")
	rootCmd.Flags().StringVar(&apiBaseURL, "api-base-url", "", "scholarly API base URL (or CITECRAWL_API_BASE_URL)")
	rootCmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres connection string (or CITECRAWL_DB_DSN)")
	rootCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address (or CITECRAWL_REDIS_ADDR)")

	exportCmd.Flags().StringVar(&dbDSN, "db-dsn", "", "Postgres connection string (or CITECRAWL_DB_DSN)")
	exportCmd.Flags().String("citations-out", "citations.csv", "output path for the citations export")
	exportCmd.Flags().String("processed-out", "processed.csv", "output path for the processed-papers export")

	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	id := workerID()
	log := slog.With("component", "main", "worker_id", id)

	cfg, err := config.Load(cmd.Flags(), args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(1)
	defer db.Close()

	st := store.New(db)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, ClientName: id})
	defer rdb.Close()

	processed := oracle.NewProcessedOracle(rdb, processedFilterKey, bloomCapacity, processedErrorRate, st)
	queued := oracle.NewQueuedOracle(rdb, queuedFilterKey, bloomCapacity, queuedErrorRate)
	fr := frontier.New(rdb, "citecrawl:frontier")
	writer := store.NewBatchWriter(db, commitEvery)
	client := scholarly.NewClient(cfg.APIKey, cfg.APIBaseURL)

	if err := crawl.Bootstrap(ctx, cfg.Fresh, st, processed, queued, fr, cfg.Seeds); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	worker := crawl.NewWorker(fr, processed, queued, writer, client, log)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl loop: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// workerID identifies this process for log correlation across the fleet:
// CITECRAWL_WORKER_ID if set, else hostname+pid. It carries no correctness
// weight - the frontier stays fully shared, not partitioned per worker.
func workerID() string {
	if id := os.Getenv("CITECRAWL_WORKER_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

func runExport(cmd *cobra.Command, args []string) error {
	if dbDSN == "" {
		dbDSN = os.Getenv("CITECRAWL_DB_DSN")
	}
	if dbDSN == "" {
		return fmt.Errorf("database DSN is required (--db-dsn or CITECRAWL_DB_DSN)")
	}

	db, err := sql.Open("postgres", dbDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	citationsOut, _ := cmd.Flags().GetString("citations-out")
	processedOut, _ := cmd.Flags().GetString("processed-out")

	exp := export.New(db)
	ctx := cmd.Context()

	cf, err := os.Create(citationsOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", citationsOut, err)
	}
	defer cf.Close()
	if err := exp.ExportCitations(ctx, cf); err != nil {
		return fmt.Errorf("export citations: %w", err)
	}

	pf, err := os.Create(processedOut)
	if err != nil {
		return fmt.Errorf("create %s: %w", processedOut, err)
	}
	defer pf.Close()
	if err := exp.ExportProcessed(ctx, pf); err != nil {
		return fmt.Errorf("export processed papers: %w", err)
	}
	return nil
}
