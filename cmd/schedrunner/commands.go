package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"pewcms/internal/app"
	"pewcms/internal/config"
	"pewcms/internal/schedule"
	"pewcms/pkg/logx"
)

var (
	cfgPath string

	listOwnerType   string
	listOwnerID     string
	listAll         bool
	listRunsForID   string
	listRunsLimit   int
	shutdownTimeout time.Duration
)

func newApp() *cli.App {
	a := cli.NewApp()
	a.Name = "schedrunner"
	a.Usage = "durable interval scheduler for the CMS"
	a.Version = fmt.Sprintf("%s (%s)", version, commit)
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Value:       "./config.yaml",
			Usage:       "path to the JSON or YAML config file",
			EnvVar:      "PEWCMS_CONFIG",
			Destination: &cfgPath,
		},
	}
	a.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the periodic driver and the admin API until signaled",
			Action: serve,
			Flags: []cli.Flag{
				cli.DurationFlag{
					Name:        "shutdown-timeout",
					Value:       15 * time.Second,
					Usage:       "upper bound for graceful shutdown",
					Destination: &shutdownTimeout,
				},
			},
		},
		{
			Name:   "tick",
			Usage:  "run one locked pass over due schedules and print the counts",
			Action: tick,
		},
		{
			Name:      "run",
			Usage:     "execute one schedule entry now",
			ArgsUsage: "<id>",
			Action:    runNow,
		},
		{
			Name:   "list",
			Usage:  "list schedule entries",
			Action: list,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "owner-type", Usage: "core, plugin or theme", Destination: &listOwnerType},
				cli.StringFlag{Name: "owner-id", Usage: "owner identifier", Destination: &listOwnerID},
				cli.BoolFlag{Name: "all, a", Usage: "include disabled entries", Destination: &listAll},
			},
		},
		{
			Name:   "runs",
			Usage:  "show recent run history of one entry",
			Action: runs,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "id", Usage: "schedule id", Destination: &listRunsForID},
				cli.IntFlag{Name: "limit, n", Value: 20, Usage: "rows to show", Destination: &listRunsLimit},
			},
		},
		{
			Name:   "migrate",
			Usage:  "create or upgrade the database schema and exit",
			Action: migrate,
		},
	}
	return a
}

func serve(*cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfgPath, app.Collaborators{})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

// withCore opens the scheduling stack for one-shot commands.
func withCore(fn func(ctx context.Context, core *app.Core) error) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logx.NewConsole(cfg.Logging.Level)
	core, err := app.OpenCore(ctx, cfg, log, app.Collaborators{})
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core)
}

func tick(*cli.Context) error {
	return withCore(func(ctx context.Context, core *app.Core) error {
		res, err := core.Scheduler.RunDueSchedulesLocked(ctx)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runNow(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	return withCore(func(ctx context.Context, core *app.Core) error {
		res, err := core.Scheduler.RunScheduleEntryNow(ctx, id)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
		if !res.OK {
			return cli.NewExitError("", 2)
		}
		return nil
	})
}

func list(*cli.Context) error {
	f := schedule.Filter{
		OwnerType:       schedule.OwnerType(listOwnerType),
		OwnerID:         listOwnerID,
		IncludeDisabled: listAll,
	}
	if f.OwnerType != "" && !f.OwnerType.Valid() {
		return fmt.Errorf("unknown owner type %q", listOwnerType)
	}
	return withCore(func(ctx context.Context, core *app.Core) error {
		entries, err := core.Scheduler.List(ctx, f)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no schedules found")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tOWNER\tNAME\tACTION\tEVERY\tNEXT RUN\tLAST\tSTATE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dm\t%s\t%s\t%s\n",
				e.ID, owner(e), e.Name, e.ActionKey, e.RunEveryMinutes,
				fmtTime(e.NextRunAt), orDash(string(e.LastStatus)), state(e))
		}
		return tw.Flush()
	})
}

func runs(c *cli.Context) error {
	id := listRunsForID
	if id == "" {
		id = c.Args().First()
	}
	if id == "" {
		return errors.New("runs: schedule id is required")
	}
	return withCore(func(ctx context.Context, core *app.Core) error {
		rows, err := core.Scheduler.ListRuns(ctx, id, listRunsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tTRIGGER\tSTATUS\tATTEMPT\tTOOK\tERROR")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\t%s\n",
				r.CreatedAt.Local().Format(time.DateTime), r.Trigger, r.Status,
				r.RetryAttempt, r.DurationMS, orDash(r.Error))
		}
		return tw.Flush()
	})
}

func migrate(*cli.Context) error {
	return withCore(func(_ context.Context, core *app.Core) error {
		fmt.Printf("schema ready (%s)\n", core.Store.Driver())
		return nil
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func owner(e *schedule.Entry) string {
	if e.OwnerID == "" {
		return string(e.OwnerType)
	}
	return string(e.OwnerType) + ":" + e.OwnerID
}

func state(e *schedule.Entry) string {
	switch {
	case e.DeadLettered:
		return "dead-lettered"
	case !e.Enabled:
		return "disabled"
	case e.RetryCount > 0:
		return fmt.Sprintf("retrying (%d/%d)", e.RetryCount, e.MaxRetries)
	default:
		return "ok"
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
