package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/caracal/kitchen/internal/batchbackend"
	"github.com/caracal/kitchen/internal/containerbackend"
	"github.com/caracal/kitchen/internal/localbackend"
	"github.com/caracal/kitchen/internal/logging"
	"github.com/caracal/kitchen/internal/scheduler"
	"github.com/caracal/kitchen/internal/statusserver"
	"github.com/caracal/kitchen/pkg/backend"
)

func runCmd() *cobra.Command {
	var steps string
	var tags string
	var skipTags string

	cmd := &cobra.Command{
		Use:   "run <document> [recipe] [key=value ...]",
		Short: "Prevalidate and execute a recipe's steps",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := runConfig()
			logger := newLogger()

			docPath := args[0]
			rest := args[1:]
			recipeName := ""
			if len(rest) > 0 && !isParamAssignment(rest[0]) {
				recipeName = rest[0]
				rest = rest[1:]
			}
			params, err := parseParamAssignments(rest)
			if err != nil {
				return err
			}

			doc, err := loadDocument([]string{docPath}, cfg.SearchPaths, logger)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			r, err := doc.selectRecipe(recipeName)
			if err != nil {
				return err
			}

			var stepLabels []string
			for _, s := range r.Steps {
				stepLabels = append(stepLabels, s.Label)
			}
			onlySteps, err := parseStepSelection(steps, stepLabels)
			if err != nil {
				return err
			}

			reg := backend.NewRegistry(logger)
			lb := localbackend.New("", logger)
			lb.MaxOpenFiles = cfg.MaxOpenFiles
			reg.Register(lb)
			reg.Register(containerbackend.New("", logger))
			reg.Register(batchbackend.New("", nil, logger))

			status := statusserver.NewRunStatus(r.Name, stepLabels)
			sched := scheduler.New(doc.cabResolver(), doc.recipeResolver(), reg, logger)
			sched.Status = status
			sched.ConsoleSink = logging.NewConsoleSink(os.Stderr, colorEnabled())

			if cfg.StatusAddr != "" {
				srv := statusserver.New(status, logger)
				go func() {
					if err := srv.ListenAndServe(cfg.StatusAddr); err != nil {
						logger.Error("status server exited", "error", err)
					}
				}()
				logger.Info("live-progress server listening", "addr", cfg.StatusAddr)
			}

			ctx, cancel := withInterruptCancel(logger)
			defer cancel()

			started := time.Now()
			runErr := sched.RunRecipe(ctx, r, params, scheduler.Options{
				Backend:     cfg.Backend,
				OnlySteps:   onlySteps,
				IncludeTags: parseTagSet(tags),
				ExcludeTags: parseTagSet(skipTags),
				Env:         map[string]string{},
				LogDir:      cfg.LogDir,
			}, nil)
			status.Finish(runErr)

			elapsed := time.Since(started)
			if runErr != nil {
				logger.Error("run failed", "recipe", r.Name, "started", humanize.Time(started), "error", runErr)
				return runErr
			}
			logger.Info("run succeeded", "recipe", r.Name, "elapsed", elapsed.Round(time.Millisecond).String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&steps, "steps", "s", "", "comma-separated step labels/ranges to run (default: all)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags to include")
	cmd.Flags().StringVar(&skipTags, "skip-tags", "", "comma-separated tags to exclude")
	return cmd
}

func isParamAssignment(s string) bool {
	for _, c := range s {
		if c == '=' {
			return true
		}
		if c == '.' || c == '/' {
			return false
		}
	}
	return false
}
