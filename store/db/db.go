// Package db provides the database driver factory.
package db

import (
	"github.com/pkg/errors"

	"github.com/confidant-ai/confidant/internal/profile"
	"github.com/confidant-ai/confidant/store"
	"github.com/confidant-ai/confidant/store/db/postgres"
	"github.com/confidant-ai/confidant/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported database driver: %s", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
