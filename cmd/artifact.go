package cmd

import (
	"fmt"

	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/project"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Inspect and delete stored results",
}

var artifactLsCmd = &cobra.Command{
	Use:   "ls <address>",
	Short: "List the artifacts stored for an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProject(cmd, func(_ *env, p *project.Project) error {
			k, err := geometryTarget(p, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range p.Artifacts().All() {
				if s.Has(k) {
					printf(w, "%s\n", s.Kind())
				}
				names, err := s.Names(k)
				if err != nil {
					return err
				}
				for _, n := range names {
					printf(w, "%s@%s\n", s.Kind(), n)
				}
			}
			return nil
		})
	},
}

var artifactRmCmd = &cobra.Command{
	Use:   "rm <kind> <address>",
	Short: "Delete one artifact of an entry",
	Long: `Delete one artifact of an entry. --name selects a named entry such
as a fit run; --all deletes the plain entry and every named one.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		all, _ := cmd.Flags().GetBool("all")
		return withProject(cmd, func(_ *env, p *project.Project) error {
			s, err := p.Artifacts().Store(artifact.Kind(args[0]))
			if err != nil {
				return err
			}
			k, err := geometryTarget(p, args[1])
			if err != nil {
				return err
			}
			if all {
				return s.Purge(k)
			}
			return s.DeleteNamed(k, name)
		})
	},
}

var artifactNextCmd = &cobra.Command{
	Use:   "next <folder>",
	Short: "Print the first image of a folder without an artifact of --kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		after, _ := cmd.Flags().GetString("after")
		return withProject(cmd, func(_ *env, p *project.Project) error {
			s, err := p.Artifacts().Store(artifact.Kind(kind))
			if err != nil {
				return err
			}
			f, err := lookupFolder(p.Tree(), args[0])
			if err != nil {
				return err
			}
			leaves := f.Leaves()
			from := -1
			if after != "" {
				k, err := lookup(p.Tree(), after)
				if err != nil {
					return err
				}
				l, ok := k.(*tree.Leaf)
				if !ok || l.Parent() != f {
					return fmt.Errorf("%s is not an image of %s", k.Address(), f.Address())
				}
				from = l.Index()
			}
			i := artifact.NextMissing(artifact.Presence(s, f), from, len(leaves))
			if i < 0 {
				okf(cmd.OutOrStdout(), "every image has %s\n", kind)
				return nil
			}
			printf(cmd.OutOrStdout(), "%s\n", leaves[i].Address())
			return nil
		})
	},
}

func init() {
	artifactRmCmd.Flags().String("name", "", "Named entry to delete")
	artifactRmCmd.Flags().Bool("all", false, "Delete the plain entry and every named one")
	artifactNextCmd.Flags().String("kind", string(artifact.KindPolarImage), "Artifact kind")
	artifactNextCmd.Flags().String("after", "", "Start after this image")

	artifactCmd.AddCommand(artifactLsCmd, artifactRmCmd, artifactNextCmd)
	rootCmd.AddCommand(artifactCmd)
}
