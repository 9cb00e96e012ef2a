package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/flockml/flock/pkg/db/models"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [up migration] ")

		// Create fl schema
		_, err := db.NewRaw("CREATE SCHEMA IF NOT EXISTS fl").Exec(ctx)
		if err != nil {
			return err
		}

		// Create users table from struct
		_, err = db.NewCreateTable().
			Model((*models.User)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}

		// Create jobs table from struct
		_, err = db.NewCreateTable().
			Model((*models.Job)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}

		// FindByStatus scans on status with a limit
		_, err = db.NewRaw("CREATE INDEX IF NOT EXISTS fl_jobs_status_idx ON fl.jobs (status)").Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Print(" [down migration] ")

		_, err := db.NewDropTable().Model((*models.Job)(nil)).IfExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewDropTable().Model((*models.User)(nil)).IfExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewRaw("DROP SCHEMA IF EXISTS fl").Exec(ctx)
		return err
	})
}
