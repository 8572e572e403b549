// Command migrate applies the embedded Tally schema (users, actions,
// activity_log, api_tokens, sessions) to the database in DATABASE_URL.
//
//	migrate up            bring the schema to the latest version
//	migrate status        list applied and pending files
//	migrate down          undo the newest migration
//	migrate up-to 3       stop at a given version
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/tallyhq/tally/internal/logging"
	"github.com/tallyhq/tally/migrations"
)

const connectTimeout = 10 * time.Second

const usage = `usage: migrate <command> [version]

commands:
  up | up-by-one | up-to <v>    apply pending schema changes
  down | down-to <v>            revert schema changes
  redo                          revert and reapply the newest change
  status | version              show what has been applied
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	command, args := os.Args[1], os.Args[2:]

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is not set; nothing to migrate")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("open tally database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.Error("tally database unreachable", "error", err)
		os.Exit(1)
	}

	if err := migrations.Run(ctx, db, command, args...); err != nil {
		logger.Error("schema migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("schema migration finished", "command", command)
}
