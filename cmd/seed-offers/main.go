// Command seed-offers loads offer catalogs and upserts them into PostgreSQL.
//
//	seed-offers -database-url postgres://... offers.yaml seasonal.yaml.gz
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/catalog"
	"github.com/xenking/kart-pricing/internal/storage/postgres"
)

const upsertWorkers = 8

func main() {
	var (
		databaseURL string
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate catalogs without writing to the database")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] catalog.yaml [catalog.yaml.gz ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set -database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, dryRun, flag.Args()); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, dryRun bool, files []string) error {
	lg.Info("Loading catalogs", zap.Strings("files", files))
	cat, err := catalog.LoadFiles(ctx, files...)
	if err != nil {
		return errors.Wrap(err, "load catalogs")
	}
	lg.Info("Catalogs valid",
		zap.Int("offers", len(cat.Offers)),
		zap.String("currency", cat.Currency),
	)
	if dryRun {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewOfferRepository(pool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertWorkers)
	for i := range cat.Offers {
		o := &cat.Offers[i]
		g.Go(func() error {
			if err := repo.Upsert(gctx, o); err != nil {
				return errors.Wrapf(err, "upsert offer %d", o.ID)
			}
			lg.Debug("Upserted offer", zap.Int64("id", o.ID), zap.String("code", o.Code))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	lg.Info("Upserted offers", zap.Int("count", len(cat.Offers)))
	return nil
}
