package registry

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/ferr"
)

// Users is the account persistence surface used by the auth service.
type Users interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hashedPassword string) error
}

// BunUsers implements Users on fl.users.
type BunUsers struct {
	db *bun.DB
}

func NewBunUsers(db *bun.DB) *BunUsers {
	return &BunUsers{db: db}
}

func (u *BunUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := u.db.NewSelect().
		Model(&user).
		Where("username = ?", username).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ferr.Newf(ferr.CodeNotFound, "user %s not found", username)
		}
		return nil, err
	}
	return &user, nil
}

func (u *BunUsers) Create(ctx context.Context, user *models.User) error {
	_, err := u.db.NewInsert().
		Model(user).
		Returning("*").
		Exec(ctx)
	return err
}

func (u *BunUsers) UpdatePassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	res, err := u.db.NewUpdate().
		Model((*models.User)(nil)).
		Set("hashed_password = ?", hashedPassword).
		Set("updated_at = current_timestamp").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ferr.Newf(ferr.CodeRegistryIntegrity,
			"update password: expected exactly one user row updated for id %s, got %d", id, n)
	}
	return nil
}

var _ Users = (*BunUsers)(nil)
