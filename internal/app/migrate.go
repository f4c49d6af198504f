package app

import (
	"context"
)

// Migrate applies pending database migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if a.Config.Database.AutoMigrate {
		// already applied by openStore
		return nil
	}
	return store.Migrate(ctx, a.Logger)
}
