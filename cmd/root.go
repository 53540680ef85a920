package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/arcscope/arcscope/internal/observe"
	"github.com/arcscope/arcscope/internal/project"
	"github.com/arcscope/arcscope/internal/settings"
	"github.com/spf13/cobra"
)

var (
	projectDir string
	configPath string
	verbose    bool
	logJSON    bool
)

// errNoProject is returned when neither --project nor the recent list names
// a project.
var errNoProject = errors.New("no project: pass --project or open one first")

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&projectDir, "project", "p", "", "Project directory (default: most recently opened)")
	pf.StringVar(&configPath, "config", "", "Config file (default: user config dir)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log info messages")
	pf.BoolVar(&logJSON, "log-json", false, "Log as JSON")
}

var rootCmd = &cobra.Command{
	Use:   "arcscope",
	Short: "Browse diffraction data and keep per-image results in a project",
	Long: `arcscope keeps a project: a tree of data folders, images and HDF5
containers, plus the artifacts computed for them (polar images, ROIs,
geometries, fits, profiles). The tree lists what was added; nothing is
expanded until asked.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// env is what every command needs: a logger, the user config and a
// project manager built on them.
type env struct {
	obs *observe.Observer
	cfg *settings.Config
	mgr *project.Manager
}

func newEnv(cmd *cobra.Command) (*env, error) {
	var obs *observe.Observer
	if logJSON {
		obs = observe.NewJSON(cmd.ErrOrStderr(), verbose)
	} else {
		obs = observe.New(cmd.ErrOrStderr(), verbose)
	}

	path := configPath
	if path == "" {
		var err error
		if path, err = settings.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := settings.Load(path)
	if err != nil {
		return nil, err
	}
	return &env{
		obs: obs,
		cfg: cfg,
		mgr: project.NewManager(cfg, project.WithLogger(obs.Log())),
	}, nil
}

func (e *env) projectDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	if projectDir != "" {
		return projectDir, nil
	}
	if len(e.cfg.Recent) > 0 {
		return e.cfg.Recent[0], nil
	}
	return "", errNoProject
}

// withProject opens the selected project, runs fn and closes the project,
// which saves the tree. A failing fn still closes.
func withProject(cmd *cobra.Command, fn func(*env, *project.Project) error) error {
	return withProjectDir(cmd, "", fn)
}

// withProjectDir is withProject for an explicit directory.
func withProjectDir(cmd *cobra.Command, dir string, fn func(*env, *project.Project) error) (err error) {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	dir, err = e.projectDir(dir)
	if err != nil {
		return err
	}
	p, err := e.mgr.Open(dir)
	if err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	defer func() {
		if cerr := e.mgr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if p.Healed() {
		warnf(cmd.ErrOrStderr(), "saved tree of %s was unreadable and has been reset\n", p.Dir())
	}
	return fn(e, p)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errorf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
