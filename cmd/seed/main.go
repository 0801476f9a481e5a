package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/repository"
	"github.com/timmy/docpipe/internal/service"
)

type seedUser struct {
	email    string
	fullName string
	password string
	role     domain.Role
}

// Accounts documented in the README.
var staticUsers = []seedUser{
	{"admin@example.com", "Admin User", "Admin@123", domain.RoleAdmin},
	{"editor@example.com", "Editor User", "Editor@123", domain.RoleEditor},
	{"viewer@example.com", "Viewer User", "Viewer@123", domain.RoleViewer},
}

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "docpipe-seed",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	editors := flag.Int("editors", 0, "Number of sample editor accounts to create")
	viewers := flag.Int("viewers", 0, "Number of sample viewer accounts to create")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	users := service.NewUserService(repository.NewUserRepository(db), appLogger)

	accounts := append([]seedUser{}, staticUsers...)
	accounts = append(accounts, samples("editor", domain.RoleEditor, "Editor@123", *editors)...)
	accounts = append(accounts, samples("viewer", domain.RoleViewer, "Viewer@123", *viewers)...)

	var created, skipped int
	for _, u := range accounts {
		if ctx.Err() != nil {
			appLogger.Warn("Seeding interrupted")
			break
		}
		ok, err := users.EnsureUser(ctx, u.email, u.password, u.fullName, u.role)
		if err != nil {
			appLogger.WithError(err).WithField("email", u.email).Error("Failed to seed user")
			os.Exit(1)
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}

	appLogger.WithFields(logger.Fields{
		"created": created,
		"skipped": skipped,
	}).Info("User seeding completed")
}

func samples(prefix string, role domain.Role, password string, n int) []seedUser {
	out := make([]seedUser, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, seedUser{
			email:    fmt.Sprintf("%s-%03d@example.com", prefix, i),
			fullName: fmt.Sprintf("Sample %s %d", role, i),
			password: password,
			role:     role,
		})
	}
	return out
}
