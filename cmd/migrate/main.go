// Command migrate manages the payflow schema.
//
//	migrate [-dir path] up | down | status | to <version> | create <name> | check
//
// create and check work on the files in -dir and need no database. The
// database commands run the schema embedded in the binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/payflow/pkg/config"
	"github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/logger"
	"github.com/angelmondragon/payflow/pkg/migrate"
)

func main() {
	dir := flag.String("dir", migrate.SourceDir, "migration source directory for create and check")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(context.Background(), *dir, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) != 1 {
			return fmt.Errorf("usage: create <name>")
		}
		path, err := migrate.Create(dir, args[0], time.Now())
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case "check":
		if err := migrate.Check(os.DirFS(dir)); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{ServiceName: "migrate", Level: logger.ParseLevel(cfg.App.LogLevel)})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer client.Close()
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	m, err := migrate.New(sqlDB, nil)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		ran, err := m.Up(ctx)
		logg.Info(logg.WithField(ctx, "applied", ran), "migrations applied")
		return err
	case "down":
		v, err := m.Down(ctx)
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "version", v), "migration rolled back")
		return nil
	case "to":
		if len(args) != 1 {
			return fmt.Errorf("usage: to <YYYYMMDDHHMMSS>")
		}
		target, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], err)
		}
		ran, err := m.To(ctx, target)
		logg.Info(logg.WithFields(ctx, map[string]any{"target": target, "ran": ran}), "schema moved")
		return err
	case "status":
		rows, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range rows {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown command")
	}
}
