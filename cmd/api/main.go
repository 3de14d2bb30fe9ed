package main

import (
	"context"
	"log"

	"github.com/punchamoorthee/stayescrow/internal/app"
	"github.com/punchamoorthee/stayescrow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("app init: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("app run: %v", err)
	}
}
