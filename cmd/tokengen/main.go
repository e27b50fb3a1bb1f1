// Command tokengen prints a signed bearer token for local development.
//
// With -email it first creates the user, and with -plan it subscribes the
// user to that plan, creating the plan from the -max-* flags when missing.
//
//	tokengen -user 7c2a...                      # token for an existing user id
//	tokengen -email ada@example.com -plan pro   # create user + pro subscription
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/DukeRupert/formwell/internal"
	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/repository"
	"github.com/DukeRupert/formwell/internal/store/postgres"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type options struct {
	userID   string
	email    string
	name     string
	plan     string
	maxForms int64
	maxSubs  int64
	maxMB    int64
	ttl      time.Duration
}

func run() error {
	var opts options
	flag.StringVar(&opts.userID, "user", "", "existing user id")
	flag.StringVar(&opts.email, "email", "", "create a user with this email")
	flag.StringVar(&opts.name, "name", "", "display name for a created user")
	flag.StringVar(&opts.plan, "plan", "", "subscribe the user to this plan")
	flag.Int64Var(&opts.maxForms, "max-forms", 50, "form cap for a created plan (-1 unlimited)")
	flag.Int64Var(&opts.maxSubs, "max-submissions", 10000, "monthly submission cap for a created plan (-1 unlimited)")
	flag.Int64Var(&opts.maxMB, "max-storage-mb", 5000, "storage cap in MB for a created plan (-1 unlimited)")
	flag.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if (opts.userID == "") == (opts.email == "") {
		return errors.New("exactly one of -user or -email is required")
	}

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	repo := repository.New(db)
	users := postgres.NewUserStore(repo)
	plans := postgres.NewPlanStore(repo)

	user, err := resolveUser(ctx, users, opts)
	if err != nil {
		return err
	}

	if opts.plan != "" {
		plan, err := ensurePlan(ctx, plans, opts)
		if err != nil {
			return err
		}
		if _, err := plans.Subscribe(ctx, user.ID, plan.ID, domain.SubscriptionStatusActive, nil); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "subscribed %s to %s\n", user.Email, plan.Name)
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(domain.Principal{UserID: user.ID, Email: user.Email}, opts.ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "user %s (%s), expires in %s\n", user.ID, user.Email, opts.ttl)
	fmt.Println(token)
	return nil
}

func resolveUser(ctx context.Context, users *postgres.UserStore, opts options) (*domain.User, error) {
	if opts.email != "" {
		return users.CreateUser(ctx, opts.email, opts.name)
	}
	id, err := uuid.Parse(opts.userID)
	if err != nil {
		return nil, fmt.Errorf("invalid -user: %w", err)
	}
	return users.GetUser(ctx, id)
}

func ensurePlan(ctx context.Context, plans *postgres.PlanStore, opts options) (*domain.Plan, error) {
	plan, err := plans.GetPlanByName(ctx, opts.plan)
	if err == nil {
		return plan, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}
	return plans.CreatePlan(ctx, domain.Plan{
		Name:                   opts.plan,
		MaxForms:               domain.LimitFromInt(opts.maxForms),
		MaxSubmissionsPerMonth: domain.LimitFromInt(opts.maxSubs),
		MaxStorageMB:           domain.LimitFromInt(opts.maxMB),
	})
}

func main() {
	log.SetFlags(0)
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
