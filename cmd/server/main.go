// Command jim-server starts the JIM chat server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dmavdeev/jimchat/internal/server"
	"github.com/dmavdeev/jimchat/internal/storage/sqlite"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, opens the store, and runs the server until a
// termination signal arrives.
func main() {
	port := pflag.IntP("port", "p", 7777, "listen port (1024-65535)")
	addr := pflag.StringP("addr", "a", "", "bind address (default: all interfaces)")
	dbPath := pflag.String("db", "jimchat.db", "SQLite database file")
	pflag.Parse()

	if *port < 1024 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %d: must be between 1024 and 65535\n", *port)
		os.Exit(1)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
		zap.Int("port", *port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, *dbPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	// No session can be live before the first client connects.
	if err := store.PurgeSessions(ctx); err != nil {
		logger.Fatal("purge sessions", zap.Error(err))
	}

	srv := server.New(store, logger)
	listen := net.JoinHostPort(*addr, strconv.Itoa(*port))
	if err := srv.Run(ctx, listen); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
