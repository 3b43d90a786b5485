package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/config"
	"kxfer.org/internal/migrate"
	"kxfer.org/internal/store/sqlstore"
)

func main() {
	log.SetFlags(0)
	var (
		driver = flag.String("driver", os.Getenv(config.EnvDatabaseDriver), "Database driver: postgres or sqlite")
		dsn    = flag.String("dsn", os.Getenv(config.EnvDatabaseDSN), "Database DSN")
		dir    = flag.String("dir", "", "Directory with migrations/ and seeds/ (default: files compiled into the binary)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatalf("missing DSN: provide via -dsn or %s", config.EnvDatabaseDSN)
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	dialect, err := sqlstore.ParseDialect(*driver)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := sqlstore.Open(dialect, *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var opts []migrate.Option
	if *dir != "" {
		opts = append(opts, migrate.WithFiles(os.DirFS(*dir)))
	}
	mgr := migrate.NewManager(store.DB(), dialect, opts...)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			fmt.Println("nothing to roll back")
			return
		}
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		err = mgr.Seed(ctx)
		if err == nil {
			err = store.SeedAccounts(ctx, auth.DemoAccounts)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
