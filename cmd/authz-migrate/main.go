package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/teamgrid/authz/pkg/rbac"
)

func main() {
	databaseURL := flag.String("database-url", os.Getenv("AUTHZ_POSTGRES_URL"), "Postgres connection URL")
	seed := flag.Bool("seed", false, "Install the permission catalog and system roles after migrating")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for the migration run")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *databaseURL == "" {
		log.Fatal("database URL is required (flag -database-url or AUTHZ_POSTGRES_URL)")
	}

	db, err := sql.Open("postgres", *databaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}

	log.Info("running migrations")
	if err := rbac.RunMigrations(ctx, db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	log.Info("migrations complete")

	if *seed {
		log.Info("seeding permission catalog and system roles")
		if err := rbac.SeedData(ctx, db); err != nil {
			log.WithError(err).Fatal("seeding failed")
		}
		log.Info("seed data installed")
	}
}
