package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/caracal/kitchen/internal/batchbackend"
	"github.com/caracal/kitchen/internal/containerbackend"
	"github.com/caracal/kitchen/internal/localbackend"
	"github.com/caracal/kitchen/pkg/backend"
	"github.com/caracal/kitchen/pkg/recipe"
)

// buildCmd implements spec §6's "Build" invocation surface: walk every cab
// referenced (directly or through sub-recipes) by the selected recipe and
// invoke each one's backend image build.
func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <document> [recipe]",
		Short: "Build every cab image a recipe references",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := runConfig()
			logger := newLogger()

			doc, err := loadDocument([]string{args[0]}, cfg.SearchPaths, logger)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			recipeName := ""
			if len(args) > 1 {
				recipeName = args[1]
			}
			r, err := doc.selectRecipe(recipeName)
			if err != nil {
				return err
			}

			reg := backend.NewRegistry(logger)
			lb := localbackend.New("", logger)
			lb.MaxOpenFiles = cfg.MaxOpenFiles
			reg.Register(lb)
			reg.Register(containerbackend.New("", logger))
			reg.Register(batchbackend.New("", nil, logger))

			ctx, cancel := withInterruptCancel(logger)
			defer cancel()

			seen := map[string]bool{}
			return buildRecipeCabs(ctx, r, doc, reg, cfg.Backend, seen, logger)
		},
	}
}

func buildRecipeCabs(ctx context.Context, r *recipe.Recipe, doc *document, reg *backend.Registry, optsBackend string, seen map[string]bool, logger *slog.Logger) error {
	for _, step := range r.Steps {
		if step.Cab != "" {
			if seen[step.Cab] {
				continue
			}
			seen[step.Cab] = true
			c, ok := doc.cabs[step.Cab]
			if !ok || c.Image == "" {
				continue
			}
			recipeBackend := r.Backend
			if c.Backend != "" {
				recipeBackend = c.Backend
			}
			be, err := reg.Resolve(ctx, step.Backend, recipeBackend, optsBackend)
			if err != nil {
				return fmt.Errorf("cab %q: %w", step.Cab, err)
			}
			logger.Info("building image", "cab", step.Cab, "image", c.Image)
			if err := be.Build(ctx, c.Image); err != nil {
				if err == backend.ErrBuildUnsupported {
					logger.Warn("backend does not support building images", "cab", step.Cab)
					continue
				}
				return fmt.Errorf("cab %q: build: %w", step.Cab, err)
			}
		} else if step.Recipe != "" {
			sub, ok := doc.recipes[step.Recipe]
			if !ok {
				continue
			}
			if err := buildRecipeCabs(ctx, sub, doc, reg, optsBackend, seen, logger); err != nil {
				return err
			}
		}
	}
	return nil
}
