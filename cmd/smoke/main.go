package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/config"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/platform"
	"kxfer.org/internal/session"
)

// Runs against a live kxfer-server seeded with the demo data.
func main() {
	log.SetFlags(0)

	cfg, err := config.Load(os.Getenv("KXFER_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, acc := range auth.DemoAccounts {
		if err := check(ctx, cfg, acc); err != nil {
			log.Fatalf("%s: %v", acc.User.Username, err)
		}
	}
	fmt.Printf("✅ kxfer smoke test passed against %s: accounts=%d\n", cfg.APIURL, len(auth.DemoAccounts))
}

func check(ctx context.Context, cfg config.Config, acc auth.DemoAccount) error {
	p, err := platform.New(cfg, platform.WithTokenStore(session.NewMemoryStore()))
	if err != nil {
		return err
	}
	u, err := p.Login(ctx, acc.User.Username, acc.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer p.Logout()

	if u.Level != acc.User.Level {
		return fmt.Errorf("server reports level %d, expected %d", u.Level, acc.User.Level)
	}

	// The gateway already rejects over-clearance responses; the explicit
	// loops make a failure name the offending artifact.
	arts, err := p.Content().ListArtifacts(ctx, knowledge.Filter{})
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, a := range arts {
		if a.AccessLevel > u.Level {
			return fmt.Errorf("listing returned artifact %d at level %d", a.ID, a.AccessLevel)
		}
	}

	results, err := p.Content().Search(ctx, "strategy", knowledge.Filter{})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	for _, a := range results {
		if a.AccessLevel > u.Level {
			return fmt.Errorf("search returned artifact %d at level %d", a.ID, a.AccessLevel)
		}
	}

	reply, err := p.Chat().Ask(ctx, "What is our technology roadmap?")
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if reply.IsFallback() {
		return fmt.Errorf("assistant returned the fallback reply")
	}

	fmt.Printf("  %-14s level=%-3d artifacts=%d search=%d\n", u.Username, u.Level, len(arts), len(results))
	return nil
}
