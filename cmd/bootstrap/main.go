// Command bootstrap creates the initial administrator account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/RichardoC/legisla/internal/auth"
	"github.com/RichardoC/legisla/internal/config"
	"github.com/RichardoC/legisla/internal/db"
	"github.com/RichardoC/legisla/internal/models"
	"go.uber.org/zap"
)

const adminName = "Administrador"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	password := flag.String("password", "", "password for the admin account (required)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(*password) < 6 {
		fmt.Fprintln(os.Stderr, "-password is required and must have at least 6 characters")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()
	store, err := db.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("driver", cfg.Database.Driver))
	}
	defer store.Close()

	existing, err := store.GetUserByEmail(ctx, cfg.Admin.Email)
	if err != nil {
		logger.Fatal("failed to look up admin", zap.Error(err))
	}
	if existing != nil {
		logger.Info("admin already exists",
			zap.Int64("user_id", existing.ID),
			zap.String("email", existing.Email))
		return
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		logger.Fatal("failed to hash password", zap.Error(err))
	}
	admin := &models.User{
		Email:        cfg.Admin.Email,
		PasswordHash: hash,
		Name:         adminName,
		RoleID:       models.RoleIDAdmin,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, db.ErrDuplicateEmail) {
			logger.Info("admin created concurrently", zap.String("email", cfg.Admin.Email))
			return
		}
		logger.Fatal("failed to create admin", zap.Error(err))
	}
	logger.Info("admin created",
		zap.Int64("user_id", admin.ID),
		zap.String("email", admin.Email))
}
