package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/cmd/migrate"
	"github.com/chirino/ulists/internal/cmd/serve"
	"github.com/chirino/ulists/internal/cmd/watch"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ulists",
		Usage: "Collaborative shopping lists",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			watch.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
