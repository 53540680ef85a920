package cmd

import (
	"fmt"
	"os"

	projectfs "github.com/arcscope/arcscope/internal/fs"
	"github.com/arcscope/arcscope/internal/project"
	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount a read-only view of the project",
	Long: `Mount a read-only view of the project: tree.json holds the loaded
tree, tree/ mirrors it as directories and artifacts/ exposes the stored
files by kind. The call blocks until the mount is released.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint := args[0]
		return withProject(cmd, func(_ *env, p *project.Project) error {
			host := fuse.NewFileSystemHost(projectfs.NewProjectFS(p.Tree(), p.Artifacts()))

			printf(cmd.OutOrStdout(), "Mounting %s at %s...\n", p.Dir(), mountPoint)

			// uid/gid so the mount is owned by the caller (needed on fuse-t/NFS)
			opts := []string{
				"-o", "ro",
				"-o", fmt.Sprintf("uid=%d", os.Getuid()),
				"-o", fmt.Sprintf("gid=%d", os.Getgid()),
			}
			if !host.Mount(mountPoint, opts) {
				return fmt.Errorf("mount failed")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(mountCmd)
}
