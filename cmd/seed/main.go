// seed inserts development accounts for local testing: one admin and one member in a
// shared workspace. Idempotent: existing emails are skipped.
// Admins can only be created this way; self-registration always yields members.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"saas-auth-core/internal/app"
	"saas-auth-core/internal/config"
	"saas-auth-core/internal/security"
	"saas-auth-core/internal/user/domain"
	userrepo "saas-auth-core/internal/user/repository"
)

const (
	devWorkspaceID = "dev-workspace-001"
	devPassword    = "Dev-Password-123!"
	memberEmail    = "member@example.com"
)

func main() {
	adminEmail := flag.String("admin-email", "admin@example.com", "email of the admin account")
	password := flag.String("password", devPassword, "password for every seeded account")
	workspace := flag.String("workspace", devWorkspaceID, "workspace the accounts join")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	conn, err := app.OpenDatabase(cfg)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewSQLRepository(conn)
	hasher := security.NewBcrypt(cfg.BcryptCost)

	seed := []struct {
		email string
		role  string
	}{
		{*adminEmail, domain.RoleAdmin},
		{memberEmail, domain.RoleMember},
	}
	for _, s := range seed {
		existing, err := users.GetByEmail(ctx, s.email)
		if err != nil {
			log.Fatalf("seed: lookup %s: %v", s.email, err)
		}
		if existing != nil {
			log.Printf("seed: %s already exists, skipping", s.email)
			continue
		}
		digest, err := hasher.Hash(*password)
		if err != nil {
			log.Fatalf("seed: hash password: %v", err)
		}
		now := time.Now().UTC()
		u := &domain.User{
			ID:            uuid.New().String(),
			Email:         s.email,
			PasswordHash:  digest,
			Role:          s.role,
			WorkspaceID:   *workspace,
			Status:        domain.UserStatusActive,
			EmailVerified: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("seed: create %s: %v", s.email, err)
		}
		log.Printf("seed: created %s (%s) in workspace %s", s.email, s.role, *workspace)
	}
}
