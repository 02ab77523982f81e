package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/luminary/internal/api"
	"github.com/nugget/luminary/internal/buildinfo"
	"github.com/nugget/luminary/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

// runServe is the primary operating mode: it starts the scheduler, the
// maintenance loop and the API server, then blocks until SIGINT or
// SIGTERM. Shutdown drains HTTP requests first, then stops the timers,
// then waits for in-flight jobs before closing the database.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options) error {
	a, err := setup(opts, stdout)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger
	logger.Info("starting", "build", buildinfo.String())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			logger.Warn("MQTT notification channel unavailable", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.mqtt.Stop(sctx); err != nil {
					logger.Warn("MQTT disconnect failed", "error", err)
				}
			}()
		}
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	a.maintenance.Start(ctx)
	defer a.maintenance.Stop()

	server := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, api.Deps{
		Loop:        a.loop,
		Runner:      a.runner,
		Scheduler:   a.scheduler,
		Notes:       a.notes,
		Maintenance: a.maintenance,
		Bus:         a.bus,
		DefaultUser: a.cfg.DefaultUser.ID,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		logger.Warn("API server shutdown incomplete", "error", err)
	}
	return nil
}

// runAsk runs a single chat turn and prints the reply. Logs go to stderr
// so the reply can be piped.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options, message string) error {
	a, err := setup(opts, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	resp := a.loop.RunTurn(ctx, a.user(opts), message)
	if opts.outputFmt == "json" {
		return writeJSON(stdout, resp)
	}
	fmt.Fprintln(stdout, resp.Text)
	return nil
}

// runJob handles "job run <routineId> [inputJSON]" and
// "job tool <name> [toolInputJSON]". The job is stored like any other
// and then run in the foreground.
func runJob(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options, args []string) error {
	if len(args) < 2 || (args[0] != "run" && args[0] != "tool") {
		return fmt.Errorf("usage: luminary job run <routineId> [inputJSON] | luminary job tool <name> [toolInputJSON]")
	}
	var raw string
	if len(args) > 2 {
		raw = args[2]
	}
	payload, err := jobs.ParseInput(raw)
	if err != nil {
		return err
	}

	a, err := setup(opts, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	in := jobs.EnqueueInput{TriggerType: jobs.TriggerManual, UserID: a.user(opts)}
	if args[0] == "run" {
		in.RoutineID = args[1]
		in.Input = payload
	} else {
		in.ToolName = args[1]
		in.ToolInput = payload
	}

	store := a.runner.Store()
	job, err := store.Enqueue(ctx, in)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	if err := a.runner.Run(ctx, job.ID); err != nil {
		return fmt.Errorf("run job %s: %w", job.ID, err)
	}
	job, err = store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		if err := writeJSON(stdout, job); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "job %s %s\n", job.ID, job.Status)
		if job.Result != nil {
			out, _ := json.MarshalIndent(job.Result, "", "  ")
			fmt.Fprintln(stdout, string(out))
		}
	}
	if job.Status == jobs.StatusFailed {
		return errors.New(job.Error)
	}
	return nil
}

// runMaintenance runs one maintenance pass and prints its counts.
func runMaintenance(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options) error {
	a, err := setup(opts, stderr)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.maintenance.RunOnce(ctx)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		return writeJSON(stdout, res)
	}
	fmt.Fprintln(stdout, res.Message)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
