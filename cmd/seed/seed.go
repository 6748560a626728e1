package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/model"
	"github.com/nulzo/query-router/internal/store/sqlite"
	"go.uber.org/zap"
)

// seed fills the analytics database with synthetic query logs so /v1/stats
// has something to show in development.
func main() {
	dsn := flag.String("dsn", "router.db", "sqlite database to seed")
	days := flag.Int("days", 7, "number of days of history")
	perDay := flag.Int("per-day", 100, "query logs per day")
	flag.Parse()

	repo, err := sqlite.NewSQLiteStorage(*dsn, zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	routes := []struct{ task, provider, model string }{
		{"", "openai", "gpt-4o-mini"},
		{"code", "anthropic", "claude-3-5-sonnet"},
		{"vision", "google", "gemini-1.5-pro"},
	}

	now := time.Now().UTC()
	err = repo.WithTx(context.Background(), func(tx store.Repository) error {
		for d := 0; d < *days; d++ {
			for i := 0; i < *perDay; i++ {
				route := routes[rand.Intn(len(routes))]
				entry := &model.QueryLog{
					ID:        uuid.NewString(),
					AppName:   "seed",
					Provider:  route.provider,
					Model:     route.model,
					Task:      route.task,
					CacheHit:  rand.Intn(3) == 0,
					Status:    "ok",
					LatencyMS: int64(50 + rand.Intn(1500)),
					CreatedAt: now.AddDate(0, 0, -d).Add(-time.Duration(rand.Intn(86400)) * time.Second),
				}
				if rand.Intn(20) == 0 {
					entry.Status = "error"
					entry.ErrorKind = "provider_call"
				}
				if err := tx.Queries().Log(context.Background(), entry); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Seeded %d query logs into %s\n", *days*(*perDay), *dsn)
}
