// Command migrate applies or rolls back the embedded database schema.
package main

import (
	"fmt"
	"os"

	"github.com/flicky/go-storefront-api/internal/config"
	"github.com/flicky/go-storefront-api/internal/logger"
	"github.com/flicky/go-storefront-api/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{Service: "storefront-migrate", Env: cfg.App.Env, Level: cfg.App.LogLevel})

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	m, err := migrations.New(cfg.DB.MigrateURL(), log)
	if err != nil {
		log.Error("open migrator", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", "error", err)
		}
	}()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			v     uint
			dirty bool
		)
		v, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version %d (dirty=%t)\n", v, dirty)
		}
	default:
		err = fmt.Errorf("unknown command %q (want up, down or version)", cmd)
	}
	if err != nil {
		log.Error("migrate", "command", cmd, "error", err)
		os.Exit(1)
	}
}
