package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	"github.com/shield-moderation/shield-go/internal/logger"
	"github.com/shield-moderation/shield-go/pkg/shield"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load("configs/.env")
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "shieldctl: %v\n", err)
		code := 1
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			code = exit.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:    "shieldctl",
		Usage:   "operator CLI for the Shield moderation network",
		Version: versioninfo.Short(),
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Shield API key",
				EnvVars: []string{"SHIELD_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "Shield API base URL",
				Value:   shield.DefaultAPIURL,
				EnvVars: []string{"SHIELD_API_URL"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "per-request timeout",
				Value:   shield.DefaultTimeout,
				EnvVars: []string{"SHIELD_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "log every request and response to stderr",
				EnvVars: []string{"SHIELD_DEBUG"},
			},
		},
	}
	// main owns the exit code.
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{
		{
			Name:      "check",
			Usage:     "fetch the network risk profile of a user",
			ArgsUsage: "<user-id>",
			Action:    runCheck,
		},
		{
			Name:  "report",
			Usage: "report a moderation action to the network",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "user", Required: true},
				&cli.StringFlag{Name: "guild", Required: true},
				&cli.StringFlag{Name: "action", Required: true, Usage: "one of ban, kick, timeout, mute, warn, unban, untimeout, unmute, remove_warning"},
				&cli.StringFlag{Name: "reason", Required: true},
				&cli.StringFlag{Name: "moderator", Required: true},
				&cli.TimestampFlag{Name: "account-created", Layout: time.RFC3339, Usage: "RFC 3339 account creation time"},
			},
			Action: runReport,
		},
		{
			Name:   "stats",
			Usage:  "show aggregate network statistics",
			Action: runStats,
		},
		{
			Name:   "verify",
			Usage:  "check that the API key is accepted",
			Action: runVerify,
		},
		{
			Name:   "ratelimit",
			Usage:  "make a stats call and print the rate-limit snapshot it returned",
			Action: runRateLimit,
		},
	}
	return app
}

func newClient(cctx *cli.Context) (*shield.Client, error) {
	opts := shield.Options{
		APIURL:  cctx.String("api-url"),
		Timeout: cctx.Duration("timeout"),
		Debug:   cctx.Bool("debug"),
	}
	if opts.Debug {
		z, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("init debug logger: %w", err)
		}
		opts.Logger = logger.New(z)
	}
	return shield.New(cctx.String("api-key"), opts)
}

func runCheck(cctx *cli.Context) error {
	userID := cctx.Args().First()
	if userID == "" {
		return fmt.Errorf("need to provide a user id as an argument")
	}
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	check, err := client.CheckUser(cctx.Context, userID)
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, map[string]any{
		"check":     check,
		"rateLimit": check.RateLimit,
	})
}

func runReport(cctx *cli.Context) error {
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	report := shield.ActionReport{
		UserID:      cctx.String("user"),
		GuildID:     cctx.String("guild"),
		ActionType:  shield.ActionType(cctx.String("action")),
		Reason:      cctx.String("reason"),
		ModeratorID: cctx.String("moderator"),
	}
	if ts := cctx.Timestamp("account-created"); ts != nil {
		report.AccountCreated = ts.UTC().Format(time.RFC3339)
	}
	result, err := client.ReportAction(cctx.Context, report)
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, result)
}

func runStats(cctx *cli.Context) error {
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	stats, err := client.NetworkStats(cctx.Context)
	if err != nil {
		return err
	}
	return printJSON(cctx.App.Writer, map[string]any{
		"stats":     stats,
		"rateLimit": client.RateLimit(),
	})
}

func runVerify(cctx *cli.Context) error {
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	valid := client.VerifyAPIKey(cctx.Context)
	if err := printJSON(cctx.App.Writer, map[string]bool{"valid": valid}); err != nil {
		return err
	}
	if !valid {
		return cli.Exit("api key rejected", 2)
	}
	return nil
}

func runRateLimit(cctx *cli.Context) error {
	client, err := newClient(cctx)
	if err != nil {
		return err
	}
	// Any failure that still carried headers has already updated the snapshot.
	_, callErr := client.NetworkStats(cctx.Context)
	rl := client.RateLimit()
	if rl == nil && callErr != nil {
		return callErr
	}
	return printJSON(cctx.App.Writer, map[string]any{"rateLimit": rl})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
