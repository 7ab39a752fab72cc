// Command authctl runs maintenance tasks against the auth database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-auth-service"
	"github.com/goliatone/go-auth-service/persistence"
)

const usage = `usage: authctl <command> [flags]

commands:
  migrate                                 apply database migrations
  seed [-admin-email e -admin-password p] store the role catalog, optionally an admin
  set-password -email e -password p       replace a user's password
  check-password -email e -password p     verify a user's password
  roles -email e [-set admin,user]        show or replace a user's roles
`

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"migrate":        runMigrate,
	"seed":           runSeed,
	"set-password":   runSetPassword,
	"check-password": runCheckPassword,
	"roles":          runRoles,
}

type environment struct {
	settings *auth.Settings
	logger   auth.Logger
	db       *bun.DB
	repo     auth.RepositoryManager
	out      io.Writer
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	settings, err := auth.LoadSettings()
	if err != nil {
		return err
	}

	logger, flush, err := auth.NewZapLogger(settings.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = flush() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := persistence.Open(ctx, settings.DatabaseDriver, settings.DatabaseURL, persistence.WithLogger(logger))
	if err != nil {
		return err
	}
	defer db.Close()

	env := &environment{
		settings: settings,
		logger:   logger,
		db:       db,
		repo:     auth.NewRepositoryManager(db),
		out:      out,
	}

	return cmd(ctx, env, args[1:])
}

func runMigrate(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := persistence.Migrate(ctx, env.db, env.settings.DatabaseDriver, persistence.WithLogger(env.logger)); err != nil {
		return err
	}

	version, err := persistence.MigrationVersion(ctx, env.db, env.settings.DatabaseDriver)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "database at version %d\n", version)
	return nil
}

func runSeed(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	email := fs.String("admin-email", "", "admin account email")
	password := fs.String("admin-password", "", "admin account password, used only when the account is created")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := auth.SeedRoles(ctx, env.repo, auth.DefaultRoleCatalog); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "stored %d roles\n", len(auth.DefaultRoleCatalog))

	if *email == "" {
		return nil
	}

	admin, err := auth.EnsureAdmin(ctx, env.repo, *email, *password)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "admin %s (%s)\n", admin.Email, admin.ID)
	return nil
}

func runSetPassword(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if len(*password) < auth.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	}

	user, err := env.repo.Users().FindByEmail(ctx, *email)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}

	if err := env.repo.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	fmt.Fprintf(env.out, "password updated for %s\n", user.Email)
	return nil
}

func runCheckPassword(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("check-password", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "password to check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := env.repo.Users().FindByEmail(ctx, *email)
	if err != nil {
		return err
	}

	if err := auth.ComparePasswordAndHash(*password, user.PasswordHash); err != nil {
		return fmt.Errorf("password does not match for %s", user.Email)
	}

	fmt.Fprintf(env.out, "password matches for %s\n", user.Email)
	return nil
}

func runRoles(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("roles", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	set := fs.String("set", "", "comma separated roles replacing the current set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := env.repo.Users().FindByEmail(ctx, *email)
	if err != nil {
		return err
	}

	if *set != "" {
		names := strings.Split(*set, ",")
		roles := make(auth.RoleSet, len(names))
		for _, name := range names {
			role, ok := auth.ParseRole(strings.TrimSpace(name))
			if !ok {
				return fmt.Errorf("unknown role %q", name)
			}
			roles[role] = struct{}{}
		}

		if err := env.repo.Roles().SetUserRoles(ctx, user.ID, roles); err != nil {
			return err
		}
	}

	roles, err := env.repo.Roles().UserRoles(ctx, user.ID)
	if err != nil {
		return err
	}

	fmt.Fprintln(env.out, print.MaybePrettyJSON(map[string]any{
		"email":     user.Email,
		"superuser": user.IsSuperuser,
		"roles":     roles.Strings(),
	}))
	return nil
}
