// Command gatewayctl runs operator tasks against the gateway's store.
//
// Usage:
//
//	gatewayctl migrate
//	gatewayctl entitlement set --user 42 --tier premium
//	gatewayctl cleanup-sessions
//	gatewayctl usage --day 2026-03-10
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"solvegate/internal/config"
	"solvegate/internal/database"
	"solvegate/internal/models"
	"solvegate/internal/repository"
	"solvegate/internal/service"
)

// CLI defines the command-line interface.
type CLI struct {
	Migrate         MigrateCmd         `cmd:"" help:"Apply pending database migrations."`
	Entitlement     EntitlementCmd     `cmd:"" help:"Manage entitlement tiers."`
	CleanupSessions CleanupSessionsCmd `cmd:"" name:"cleanup-sessions" help:"Delete expired sessions."`
	Usage           UsageCmd           `cmd:"" help:"Show system-wide usage for a day."`
}

// Env carries what every command needs.
type Env struct {
	Ctx    context.Context
	Config *config.Config
	DB     *database.DB
	Logger *slog.Logger
	Out    io.Writer
}

// MigrateCmd applies migrations and reports the resulting version.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(env *Env) error {
	if err := env.DB.RunMigrations(env.Ctx, env.Logger); err != nil {
		return err
	}
	version, err := env.DB.MigrationVersion(env.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "schema at version %d (%s)\n", version, env.DB.Dialect.Name())
	return nil
}

// EntitlementCmd groups entitlement operations.
type EntitlementCmd struct {
	Set EntitlementSetCmd `cmd:"" help:"Grant a tier to a user."`
}

// EntitlementSetCmd changes a user's tier.
type EntitlementSetCmd struct {
	User int64  `required:"" help:"User ID."`
	Tier string `required:"" enum:"free,premium" help:"Tier to grant (free, premium)."`
}

func (c *EntitlementSetCmd) Run(env *Env) error {
	user, err := service.NewEntitlementService(env.DB, env.Logger).SetEntitlement(env.Ctx, c.User, models.Tier(c.Tier))
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "user %d is now %s\n", user.ID, user.Tier)
	return nil
}

// CleanupSessionsCmd removes expired sessions.
type CleanupSessionsCmd struct{}

func (c *CleanupSessionsCmd) Run(env *Env) error {
	n, err := repository.NewSessionRepository(env.DB).DeleteExpired(env.Ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "removed %d expired sessions\n", n)
	return nil
}

// UsageCmd prints the daily usage aggregate.
type UsageCmd struct {
	Day string `help:"Calendar day (YYYY-MM-DD); defaults to today in QUOTA_TIMEZONE."`
}

func (c *UsageCmd) Run(env *Env) error {
	day := c.Day
	if day == "" {
		loc, err := env.Config.Location()
		if err != nil {
			return err
		}
		day = time.Now().In(loc).Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, day); err != nil {
		return fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
	}

	usage := repository.NewUsageRepository(env.DB)
	rows, err := usage.ListDay(env.Ctx, day)
	if err != nil {
		return err
	}
	total, err := usage.TotalCost(env.Ctx, day)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tCALLS\tTOKENS\tCOST_USD")
	for _, u := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.6f\n", u.Endpoint, u.Calls, u.Tokens, models.MicrosToUSD(u.CostMicros))
	}
	fmt.Fprintf(tw, "total\t\t\t%.6f\n", models.MicrosToUSD(total))
	if err := tw.Flush(); err != nil {
		return err
	}

	users, err := repository.NewUserRepository(env.DB).CountUsers(env.Ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "registered users: %d\n", users)

	if env.Config.GlobalDailyBudgetUSD > 0 {
		fmt.Fprintf(env.Out, "budget %s: %.6f of %.2f USD\n", day, models.MicrosToUSD(total), env.Config.GlobalDailyBudgetUSD)
	}
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("gatewayctl"),
		kong.Description("Operator tasks for the solve gateway"),
		kong.UsageOnError(),
	)

	cfg := config.Load()
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	db, err := database.InitializeWithConfig(cfg)
	kctx.FatalIfErrorf(err)
	defer db.Close()

	err = kctx.Run(&Env{
		Ctx:    context.Background(),
		Config: cfg,
		DB:     db,
		Logger: logger,
		Out:    os.Stdout,
	})
	kctx.FatalIfErrorf(err)
}
