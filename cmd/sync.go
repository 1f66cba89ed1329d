package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Sync runs one full sync for a user and prints the result.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	r.config = r.loadConfig(cmd.String("config"))
	userID := cmd.String("user")
	pretty := cmd.Bool("pretty")

	stack, err := r.buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	r.logger.Info("starting sync", "user_id", userID)
	result := stack.syncer.SyncUserData(ctx, userID)

	return r.writeJSON(result, pretty)
}

// Status prints connection health and the sync schedule for a user.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	r.config = r.loadConfig(cmd.String("config"))
	userID := cmd.String("user")
	pretty := cmd.Bool("pretty")

	stack, err := r.buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	status, err := stack.syncer.GetSyncStatus(ctx, userID)
	if err != nil {
		return err
	}

	return r.writeJSON(status, pretty)
}
