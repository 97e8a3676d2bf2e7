package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain/model"
	pg "github.com/znomio18-svg/backend-api/internal/infra/db/postgres"
)

// Seeds sample catalog data for local development: plans, a purchasable
// movie, a bank account and a demo user.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
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
	movieRepo := pg.NewMovieRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	accountRepo := pg.NewBankAccountRepo(pool)

	plans := []struct {
		Name  string
		Days  int
		Price int64
	}{
		{"Monthly", 30, 9900},
		{"Quarterly", 90, 24900},
		{"Yearly", 365, 79900},
	}
	for _, sp := range plans {
		plan, err := model.NewSubscriptionPlan(uuid.NewString(), sp.Name, sp.Days, sp.Price)
		if err != nil {
			log.Fatalf("plan %s: %v", sp.Name, err)
		}
		if err := planRepo.Save(ctx, nil, plan); err != nil {
			log.Fatalf("save plan %s: %v", sp.Name, err)
		}
		fmt.Printf("plan %s (days=%d, price=%d MNT)\n", sp.Name, sp.Days, sp.Price)
	}

	movie := &model.Movie{
		ID:          uuid.NewString(),
		Title:       "The Eagle Huntress",
		Price:       4900,
		IsPublished: true,
		CreatedAt:   time.Now(),
	}
	if err := movieRepo.Save(ctx, nil, movie); err != nil {
		log.Fatalf("save movie: %v", err)
	}
	fmt.Printf("movie %q (price=%d MNT)\n", movie.Title, movie.Price)

	account := &model.BankAccount{
		ID:            uuid.NewString(),
		BankName:      "Khan Bank",
		AccountNumber: "5000123456",
		AccountHolder: "Example Media LLC",
		IsActive:      true,
		SortOrder:     1,
		CreatedAt:     time.Now(),
	}
	if err := accountRepo.Save(ctx, nil, account); err != nil {
		log.Fatalf("save bank account: %v", err)
	}
	fmt.Printf("bank account %s %s\n", account.BankName, account.AccountNumber)

	user := &model.User{
		ID:        uuid.NewString(),
		Name:      "Demo User",
		Email:     "demo@example.com",
		CreatedAt: time.Now(),
	}
	if err := userRepo.Save(ctx, nil, user); err != nil {
		log.Fatalf("save user: %v", err)
	}
	fmt.Printf("user %s <%s> id=%s\n", user.Name, user.Email, user.ID)
}
