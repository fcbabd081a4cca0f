// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// setupCommand initializes configuration and the database schema.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a starter config.toml",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.Migrate,
			},
		},
	}
}

// migrateCommand manages the database schema.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run pending database migrations",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "rollback",
				Usage: "Roll back the most recent migration instead",
			},
		},
		Action: r.Migrate,
	}
}

// serveCommand runs the HTTP surface: tool dispatch, OAuth flow, uploads.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP server (tool dispatch, auth callback, imports)",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Serve,
	}
}

// workerCommand runs the background collector loop.
func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the background collector (imports, backfills, polls)",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single cycle and exit",
			},
		},
		Action: r.Worker,
	}
}

// importCommand enqueues a local archive for ingestion.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Enqueue a downloaded data archive for a user",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "path",
			},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "user",
				Usage:    "Internal user id the archive belongs to",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "now",
				Usage: "Process the archive immediately instead of waiting for the worker",
			},
		},
		Action: r.Import,
	}
}

// statusCommand reports checkpoints and recent jobs.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sync checkpoints and recent worker jobs",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Interactive refreshing view",
			},
		},
		Action: r.Status,
	}
}

// authCommand manages provider authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage provider authorization",
		Commands: []*cli.Command{
			{
				Name:  "url",
				Usage: "Print the authorization URL for a new user",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the URL in the default browser",
					},
				},
				Action: r.AuthURL,
			},
			{
				Name:   "list",
				Usage:  "List authorized users",
				Flags:  []cli.Flag{configFlag()},
				Action: r.AuthList,
			},
		},
	}
}
