package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chandra-edu/chandra/internal/config"
	"github.com/chandra-edu/chandra/internal/lessonmanager"
	"github.com/chandra-edu/chandra/internal/orchestrator"
	goutils "github.com/jkaninda/go-utils"
)

var createTemplate string

var createCmd = &cobra.Command{
	Use:   "create <lesson-id>",
	Short: "Create a new lesson script from a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createTemplate, "template", "basic",
		fmt.Sprintf("lesson template (%s)", strings.Join(lessonmanager.TemplateNames(), ", ")))
	createCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	createCmd.Flags().StringVar(&serveLessonsDir, "lessons", "", "override lessons directory")
}

// runCreate writes the template to the lessons directory, validating it
// through a throwaway runtime so a broken template never lands on disk.
func runCreate(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.LoadOrDefault(goutils.Env("CHANDRA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveLessonsDir != "" {
		cfg.LessonsDir = serveLessonsDir
	}

	orch := orchestrator.New(orchestrator.Config{}, nil, nil, logger)
	manager, err := lessonmanager.New(cfg.LessonsPath(), orch, logger)
	if err != nil {
		return err
	}
	defer manager.Close(context.Background())

	id := args[0]
	if err := manager.Create(cmd.Context(), id, createTemplate); err != nil {
		return err
	}

	fmt.Printf("created lesson %q from template %q in %s\n", id, createTemplate, manager.Dir())
	return nil
}
