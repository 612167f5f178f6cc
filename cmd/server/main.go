package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/chunkkeeper/internal/server"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/auth"
	"github.com/dmitrijs2005/chunkkeeper/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.IssueTokenFor != "" {
		tok, err := auth.GenerateToken(cfg.IssueTokenFor, []byte(cfg.SecretKey), cfg.AccessTokenValidityDuration)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(tok)
		return
	}

	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		os.Exit(1)
	}

}
