// Command admin performs moderation and maintenance tasks against the
// pairchat database and Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/janitor"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
)

const usage = `Usage: admin <command> [flags] [args]

Commands:
  end-session <session_id>   end an active session and notify both users
  cancel <user_id>           remove a user's waiting entry
  ban <user_id>              ban a user (--duration, --reason)
  unban <user_id>            lift a ban and reset the report score
  ban-status <user_id>       show whether a user is banned
  sweep                      delete expired messages and waiting entries
  reports                    list recent reports (--since, --limit)
`

type admin struct {
	store *storage.Service
	bus   *storage.RedisStore
	out   io.Writer
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger.InitFromConfig(cfg)

	db, err := storage.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	a := &admin{
		store: storage.NewStorageService(db),
		bus:   storage.NewRedisStore(rdb),
		out:   os.Stdout,
	}
	if err := a.run(context.Background(), os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *admin) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "end-session":
		return a.endSession(ctx, args)
	case "cancel":
		return a.cancel(ctx, args)
	case "ban":
		return a.ban(ctx, args)
	case "unban":
		return a.unban(ctx, args)
	case "ban-status":
		return a.banStatus(ctx, args)
	case "sweep":
		return a.sweep(ctx, args)
	case "reports":
		return a.reports(ctx, args)
	}
	return fmt.Errorf("unknown command %q\n\n%s", command, usage)
}

// oneArg parses flags and requires exactly one positional argument.
func oneArg(flagSet *pflag.FlagSet, args []string, name string) (string, error) {
	if err := flagSet.Parse(args); err != nil {
		return "", err
	}
	if flagSet.NArg() != 1 {
		return "", fmt.Errorf("usage: admin %s <%s>", flagSet.Name(), name)
	}
	return flagSet.Arg(0), nil
}

func (a *admin) endSession(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("end-session", pflag.ContinueOnError)
	sessionID, err := oneArg(flagSet, args, "session_id")
	if err != nil {
		return err
	}

	session, err := a.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	ended, err := a.store.EndSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ended {
		fmt.Fprintf(a.out, "Session %s was already ended.\n", sessionID)
		return nil
	}

	if err := a.bus.PublishEvent(ctx, models.Event{
		Type:       models.EventSessionEnded,
		SessionID:  sessionID,
		Recipients: session.Participants(),
	}); err != nil {
		fmt.Fprintf(a.out, "Session ended, but users were not notified: %v\n", err)
		return nil
	}
	fmt.Fprintf(a.out, "Session %s has been ended.\n", sessionID)
	return nil
}

func (a *admin) cancel(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("cancel", pflag.ContinueOnError)
	userID, err := oneArg(flagSet, args, "user_id")
	if err != nil {
		return err
	}
	removed, err := a.store.CancelWaiting(ctx, userID)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(a.out, "Waiting entry of %s removed.\n", userID)
	} else {
		fmt.Fprintf(a.out, "%s was not waiting.\n", userID)
	}
	return nil
}

func (a *admin) ban(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("ban", pflag.ContinueOnError)
	duration := flagSet.DurationP("duration", "d", config.BanLevel1Duration, "ban length; 0 bans permanently")
	reason := flagSet.StringP("reason", "r", "admin", "reason stored with the ban")
	userID, err := oneArg(flagSet, args, "user_id")
	if err != nil {
		return err
	}

	if err := a.bus.BanUser(ctx, userID, *reason, *duration); err != nil {
		return err
	}
	if *duration > 0 {
		if err := a.bus.SetLastBanDate(ctx, userID, time.Now(), config.BanHistoryWindow); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "User %s has been banned for %s.\n", userID, *duration)
	} else {
		fmt.Fprintf(a.out, "User %s has been banned permanently.\n", userID)
	}
	return nil
}

func (a *admin) unban(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("unban", pflag.ContinueOnError)
	userID, err := oneArg(flagSet, args, "user_id")
	if err != nil {
		return err
	}
	if err := a.bus.UnbanUser(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "User %s has been unbanned.\n", userID)
	return nil
}

func (a *admin) banStatus(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("ban-status", pflag.ContinueOnError)
	userID, err := oneArg(flagSet, args, "user_id")
	if err != nil {
		return err
	}

	banned, err := a.bus.IsUserBanned(ctx, userID)
	if err != nil {
		return err
	}
	if !banned {
		fmt.Fprintf(a.out, "User %s is not banned.\n", userID)
		return nil
	}
	ttl, err := a.bus.BanTTL(ctx, userID)
	if err != nil {
		return err
	}
	if ttl < 0 {
		fmt.Fprintf(a.out, "User %s is banned permanently.\n", userID)
	} else {
		fmt.Fprintf(a.out, "User %s is banned for another %s.\n", userID, ttl.Round(time.Second))
	}
	return nil
}

func (a *admin) sweep(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	res := janitor.New(a.store, time.Minute).Sweep(ctx)
	fmt.Fprintf(a.out, "Removed %d messages and %d waiting entries.\n", res.Messages, res.Waiting)
	return nil
}

func (a *admin) reports(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("reports", pflag.ContinueOnError)
	since := flagSet.Duration("since", 24*time.Hour, "how far back to look")
	limit := flagSet.IntP("limit", "n", 50, "maximum number of reports")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	reports, err := a.store.ListReports(ctx, time.Now().UTC().Add(-*since), *limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(a.out, "No reports.")
		return nil
	}
	for _, r := range reports {
		fmt.Fprintf(a.out, "%s  %-8s  %s -> %s  session=%s  %q\n",
			r.CreatedAt.Format(time.RFC3339), r.Category, r.ReporterID, r.TargetID, r.SessionID, r.Reason)
	}
	return nil
}
