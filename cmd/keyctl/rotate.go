package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/config"
	"github.com/BradenHooton/otpdesk/internal/database"
	"github.com/BradenHooton/otpdesk/internal/repositories"
	"github.com/BradenHooton/otpdesk/internal/services"
)

const rotationActor = "keyctl"

type rotateFunc func(ctx context.Context, oldKey []byte) (*services.RotationReport, error)

// rotateDatabase re-encrypts every credential in the configured database
func rotateDatabase(ctx context.Context, oldKey []byte) (*services.RotationReport, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	c, err := cipher.New(oldKey)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	audit := services.NewAuditService(repositories.NewAuditLogRepository(db), logger)
	creds := services.NewCredentialService(repositories.NewCredentialRepository(db), c, audit, logger)
	return creds.ReencryptAll(ctx, oldKey, rotationActor)
}
