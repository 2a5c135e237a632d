package provider

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tikcluster/tikwatch/internal/redis_client"
)

// Import loads a dataset into the Redis store. Without force it refuses to
// overwrite a store that already holds data. Progress is logged through the
// client's logger.
func Import(ctx context.Context, client *redis_client.Client, ds *Dataset, force bool) error {
	log := client.Logger()

	if err := client.AcquireImportLock(ctx); err != nil {
		return fmt.Errorf("failed to acquire import lock: %w", err)
	}
	defer func() {
		if err := client.ReleaseImportLock(ctx); err != nil {
			log.WithError(err).Warn("Failed to release import lock")
		}
	}()

	has, err := client.HasData(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect store: %w", err)
	}
	if has && !force {
		return fmt.Errorf("store already holds data, use --force to replace it")
	}
	if force {
		// ClearAll also drops the lock key; re-take it so concurrent imports stay blocked
		if err := client.ClearAll(ctx); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
		if err := client.AcquireImportLock(ctx); err != nil {
			return fmt.Errorf("failed to re-acquire import lock: %w", err)
		}
	}

	if err := client.SetUsageReport(ctx, &ds.Usage); err != nil {
		return fmt.Errorf("failed to store usage: %w", err)
	}
	if err := client.SetTheses(ctx, ds.Theses); err != nil {
		return fmt.Errorf("failed to store theses: %w", err)
	}
	if err := client.SetUsers(ctx, ds.Users); err != nil {
		return fmt.Errorf("failed to store users: %w", err)
	}
	if err := client.SetReservationLines(ctx, ds.Reservations); err != nil {
		return fmt.Errorf("failed to store reservations: %w", err)
	}

	log.WithFields(logrus.Fields{
		"snapshots":    len(ds.Usage.Snapshots),
		"theses":       len(ds.Theses),
		"users":        len(ds.Users),
		"reservations": len(ds.Reservations),
		"force":        force,
	}).Info("Imported dataset")
	return nil
}
