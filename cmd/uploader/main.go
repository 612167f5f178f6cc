package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chunkkeeper/internal/client/cli"
	"github.com/dmitrijs2005/chunkkeeper/internal/client/config"
	"github.com/dmitrijs2005/chunkkeeper/internal/flagx"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags, nil)); err != nil {
		log.Printf("%v", err)
		stop()
		os.Exit(1)
	}

}
