package cmd

import (
	"os"

	"github.com/arcscope/arcscope/internal/project"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new <dir>",
	Short: "Create an empty project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		p, err := e.mgr.New(args[0])
		if err != nil {
			return err
		}
		if err := e.mgr.Close(); err != nil {
			return err
		}
		okf(cmd.OutOrStdout(), "created project %s (%s)\n", p.Dir(), p.Settings().ID)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <dir>",
	Short: "Open a project, creating it when missing, and make it the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProjectDir(cmd, args[0], func(_ *env, p *project.Project) error {
			root := p.Tree().Root()
			printf(cmd.OutOrStdout(), "%s: %d folders, %d images\n",
				p.Dir(), len(root.Folders()), len(root.Leaves()))
			return nil
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently opened projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		if forget, _ := cmd.Flags().GetString("forget"); forget != "" {
			e.cfg.RemoveRecent(forget)
			return e.cfg.Save()
		}
		w := cmd.OutOrStdout()
		for _, dir := range e.cfg.Recent {
			if _, err := os.Stat(dir); err != nil {
				warnf(w, "%s (missing)\n", dir)
				continue
			}
			printf(w, "%s\n", dir)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config [key [value]]",
	Short: "Show or change user preferences",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if unset, _ := cmd.Flags().GetBool("unset"); unset {
			if len(args) != 1 {
				return cmd.Usage()
			}
			e.cfg.Delete(args[0])
			return e.cfg.Save()
		}
		switch len(args) {
		case 0:
			for _, k := range e.cfg.Keys() {
				v, _ := e.cfg.Get(k)
				printf(w, "%s = %s\n", k, v)
			}
		case 1:
			v, ok := e.cfg.Get(args[0])
			if !ok {
				return nil
			}
			printf(w, "%s\n", v)
		case 2:
			e.cfg.Set(args[0], args[1])
			return e.cfg.Save()
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file.h5>",
	Short: "Write the tree and all artifacts into one HDF5 file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProject(cmd, func(_ *env, p *project.Project) error {
			mirror, _ := cmd.Flags().GetBool("mirror")
			if mirror {
				if err := p.SetMirror(args[0]); err != nil {
					return err
				}
			}
			st, err := p.Export(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			okf(w, "exported %d folders, %d images, %d artifacts to %s\n",
				st.Folders, st.Leaves, st.Artifacts, args[0])
			if st.NoImage > 0 {
				warnf(w, "%d images had no readable data\n", st.NoImage)
			}
			return nil
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check loaded entries against the disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prune, _ := cmd.Flags().GetBool("prune")
		return withProject(cmd, func(_ *env, p *project.Project) error {
			bad, err := p.Tree().Validate(prune)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(bad) == 0 {
				okf(w, "all entries valid\n")
				return nil
			}
			verb := "invalid"
			if prune {
				verb = "removed"
			}
			for _, k := range bad {
				errorf(w, "%s %s %s\n", verb, k.Kind(), k.Address())
			}
			return nil
		})
	},
}

func init() {
	recentCmd.Flags().String("forget", "", "Remove a project from the list")
	configCmd.Flags().Bool("unset", false, "Delete the key")
	exportCmd.Flags().Bool("mirror", false, "Also refresh this file on every save")
	validateCmd.Flags().Bool("prune", false, "Remove invalid entries and their artifacts")

	rootCmd.AddCommand(newCmd, openCmd, recentCmd, configCmd, exportCmd, validateCmd)
}
