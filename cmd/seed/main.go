package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"dtf-editor-billing/internal/config"
	"dtf-editor-billing/internal/domain/model"
	"dtf-editor-billing/internal/domain/ports/repository"
	pg "dtf-editor-billing/internal/infra/db/postgres"
)

// Seeds the plan catalog. Stripe price ids come from the environment so the
// same binary works against test and live mode.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	planRepo := pg.NewPlanRepo(pool)

	existing, err := planRepo.ListActive(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(existing))
		for _, p := range existing {
			fmt.Printf("  - %s (kind=%s, credits=%d, price=%d cents)\n", p.ID, p.Kind, p.Credits, p.PriceCents)
		}
		return
	}

	seed := []struct {
		ID      string
		Name    string
		Kind    model.PlanKind
		Credits int64
		Price   int64
		PriceID string
	}{
		{"free", "Free", model.PlanKindSubscription, 2, 0, ""},
		{"basic", "Basic", model.PlanKindSubscription, 20, 999, os.Getenv("STRIPE_PRICE_BASIC")},
		{"starter", "Starter", model.PlanKindSubscription, 60, 2499, os.Getenv("STRIPE_PRICE_STARTER")},
		{"payg-10", "10 Credit Pack", model.PlanKindPayAsYouGo, 10, 799, os.Getenv("STRIPE_PRICE_PAYG_10")},
		{"payg-20", "20 Credit Pack", model.PlanKindPayAsYouGo, 20, 1499, os.Getenv("STRIPE_PRICE_PAYG_20")},
		{"payg-50", "50 Credit Pack", model.PlanKindPayAsYouGo, 50, 2999, os.Getenv("STRIPE_PRICE_PAYG_50")},
	}

	for _, s := range seed {
		p, err := model.NewPlan(s.ID, s.Name, s.Kind, s.Credits, s.Price, s.PriceID)
		if err != nil {
			log.Fatalf("plan %q: %v", s.ID, err)
		}
		if err := planRepo.Save(ctx, repository.NoTX, p); err != nil {
			log.Fatalf("save plan %q: %v", s.ID, err)
		}
		fmt.Printf("seeded: %s (credits=%d, price=%d cents)\n", p.ID, p.Credits, p.PriceCents)
	}

	fmt.Println("Seeding complete.")
}
