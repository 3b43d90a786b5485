package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/google/uuid"

	"kxfer.org/internal/config"
	"kxfer.org/internal/loadgen"
	"kxfer.org/internal/platform"
	"kxfer.org/internal/session"
)

func main() {
	var (
		cfgFile  = flag.String("config", os.Getenv("KXFER_CONFIG"), "Path to JSON config file")
		baseURL  = flag.String("api-url", "", "API base URL (overrides config)")
		workers  = flag.Int("workers", 3, "Concurrent sessions; personas rotate across workers")
		duration = flag.Duration("duration", time.Minute, "Duration of the run")
		seed     = flag.Int64("seed", 0, "Generator seed (0 uses the clock)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *baseURL != "" {
		cfg.APIURL = *baseURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runID := uuid.NewString()
	log.Printf("Launching load run %s: base=%s workers=%d duration=%s", runID, cfg.APIURL, *workers, *duration)

	generator := loadgen.NewGenerator(*seed)
	var counter loadgen.Counter

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		acc := generator.Account(i)
		p, err := platform.New(cfg, platform.WithTokenStore(session.NewMemoryStore()))
		if err != nil {
			log.Fatalf("worker %d: %v", i, err)
		}
		if _, err := p.Login(ctx, acc.User.Username, acc.Password); err != nil {
			log.Fatalf("worker %d login %s: %v", i, acc.User.Username, err)
		}

		wg.Add(1)
		go func(id int, p *platform.Platform) {
			defer wg.Done()
			defer p.Logout()
			target := loadgen.Bind(p)
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				step := generator.NextStep()
				switch loadgen.Execute(ctx, target, step, &counter) {
				case loadgen.OutcomeViolation:
					log.Printf("worker %d: backend leaked content above clearance on %s", id, step.Op)
				case loadgen.OutcomeSession:
					log.Printf("worker %d: session ended", id)
					return
				case loadgen.OutcomeRateLimited:
					time.Sleep(250 * time.Millisecond)
					continue
				case loadgen.OutcomeError:
					time.Sleep(200 * time.Millisecond)
					continue
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i, p)
	}

	wg.Wait()

	log.Printf("Run %s complete: %d steps, denied=%d rate_limited=%d fallback=%d errors=%d violations=%d",
		runID, counter.Steps(),
		counter.Total(loadgen.OutcomeDenied),
		counter.Total(loadgen.OutcomeRateLimited),
		counter.Total(loadgen.OutcomeFallback),
		counter.Total(loadgen.OutcomeError),
		counter.Total(loadgen.OutcomeViolation))
	log.Print("\n" + counter.Summary())

	if counter.Total(loadgen.OutcomeViolation) > 0 {
		os.Exit(1)
	}
}
