package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is an authentication principal. In practice each node carries a
// single bootstrap operator account, but lookup is always by username.
// SecretKey is the random per-user token signing key; scoping signing keys
// per user confines a compromise to that user's tokens.
type User struct {
	bun.BaseModel `bun:"table:fl.users,alias:u"`

	ID             uuid.UUID `bun:"type:uuid,default:gen_random_uuid(),pk"`
	Username       string    `bun:",unique,notnull"`
	HashedPassword string    `bun:",notnull"`
	SecretKey      string    `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
