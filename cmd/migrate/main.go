package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/logger"
	"github.com/capsule-ai/capsule-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|version|to|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (defaults to the embedded set; create writes to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("missing -name")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil
	case "validate":
		fsys, err := migrate.Source(opts.dir)
		if err != nil {
			return err
		}
		if err := migrate.ValidateFS(fsys); err != nil {
			return err
		}
		fmt.Println("migration validation passed")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DB.Driver == db.DriverSQLite {
		return fmt.Errorf("sqlite databases apply their schema on open")
	}
	logg := logger.New(logger.Options{
		ServiceName: "capsule-migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.cmd,
	})

	fsys, err := migrate.Source(opts.dir)
	if err != nil {
		return err
	}
	if err := migrate.ValidateFS(fsys); err != nil {
		return err
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, fsys)
	if err != nil {
		return err
	}

	return dispatch(ctx, logg, runner, opts)
}

func dispatch(ctx context.Context, logg *logger.Logger, runner *migrate.Runner, opts options) error {
	switch opts.cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			return err
		}
		logg.Info(ctx, "rolled back latest migration")
	case "version":
		version, err := runner.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(version)
	case "to":
		target, err := migrate.ParseVersion(opts.version)
		if err != nil {
			return err
		}
		if err := runner.To(ctx, target); err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", target), "migrated to version")
	case "status":
		rows, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
		for _, row := range rows {
			state, at := "pending", "-"
			if row.Applied {
				state, at = "applied", row.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", row.Version, state, at, row.Path)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
	return nil
}
