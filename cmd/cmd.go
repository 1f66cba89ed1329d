// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func userFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User ID to operate on",
		Required: true,
	}
}

// setupCommand initializes the database and runs migrations.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize database and run migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// authCommand runs the browser authorization flow and stores the connection.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "auth",
		Usage:  "Connect a Spotify account using OAuth2",
		Flags:  []cli.Flag{configFlag(), userFlag()},
		Action: r.Auth,
	}
}

// syncCommand runs one sync for a user.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync listening data for a user",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Sync,
	}
}

// statusCommand reports connection health and sync schedule.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync status for a user",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Status,
	}
}

// disconnectCommand revokes a user's connection.
func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Disconnect a user's Spotify account",
		Flags:  []cli.Flag{configFlag(), userFlag()},
		Action: r.Disconnect,
	}
}

// serveCommand starts the HTTP sync service.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP sync service",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides config)",
			},
		},
		Action: r.Serve,
	}
}
