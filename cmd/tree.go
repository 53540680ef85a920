package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/arcscope/arcscope/internal/project"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/ohler55/ojg/jp"
	"github.com/spf13/cobra"
)

// lookup parses s and returns the loaded key with that address.
func lookup(t *tree.Tree, s string) (tree.Key, error) {
	a, err := tree.ParseAddress(s)
	if err != nil {
		return nil, err
	}
	k := t.Find(a)
	if k == nil {
		return nil, fmt.Errorf("%s is not loaded", a)
	}
	return k, nil
}

func lookupFolder(t *tree.Tree, s string) (*tree.Folder, error) {
	if s == "" {
		return t.Root(), nil
	}
	k, err := lookup(t, s)
	if err != nil {
		return nil, err
	}
	f, ok := k.(*tree.Folder)
	if !ok {
		return nil, fmt.Errorf("%s is not a folder", k.Address())
	}
	return f, nil
}

var lsCmd = &cobra.Command{
	Use:   "ls [folder]",
	Short: "Print the loaded tree",
	Long: `Print the loaded tree, or the part below one folder.

--expand N enumerates N levels below the folder first (-1 for all); the
expansion is saved with the project. --query evaluates a JSONPath
expression over the tree dump instead, for example

  arcscope ls --query '$..leaves[?(@.invalid == true)].address'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("expand")
		query, _ := cmd.Flags().GetString("query")
		return withProject(cmd, func(_ *env, p *project.Project) error {
			var at string
			if len(args) == 1 {
				at = args[0]
			}
			f, err := lookupFolder(p.Tree(), at)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if depth != 0 {
				for _, bad := range p.Tree().Expand(f, depth) {
					errorf(cmd.ErrOrStderr(), "cannot expand %s\n", bad.Address())
				}
			}
			if query != "" {
				return printQuery(w, f, query)
			}
			printTree(w, f, 0)
			return nil
		})
	},
}

func printQuery(w io.Writer, f *tree.Folder, query string) error {
	x, err := jp.ParseString(query)
	if err != nil {
		return fmt.Errorf("invalid jsonpath '%s': %w", query, err)
	}
	for _, r := range x.Get(tree.Dump(f)) {
		if s, ok := r.(string); ok {
			printf(w, "%s\n", s)
			continue
		}
		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		printf(w, "%s\n", b)
	}
	return nil
}

// printTree writes the children of f, one per line, indented by depth.
// Top-level entries show their full address.
func printTree(w io.Writer, f *tree.Folder, depth int) {
	indent := strings.Repeat("  ", depth)
	label := func(k tree.Key) string {
		if f.IsRoot() {
			return k.Address().String()
		}
		return k.Name()
	}
	for _, c := range f.Folders() {
		switch {
		case c.Invalid():
			errorf(w, "%s%s/ (invalid)\n", indent, label(c))
		case !c.Expanded():
			printf(w, "%s%s/ ", indent, label(c))
			_, _ = faint.Fprintln(w, "...")
		default:
			printf(w, "%s%s/\n", indent, label(c))
		}
		printTree(w, c, depth+1)
	}
	for _, l := range f.Leaves() {
		if l.Invalid() {
			errorf(w, "%s%s (invalid)\n", indent, label(l))
			continue
		}
		printf(w, "%s%s\n", indent, label(l))
	}
}

var addCmd = &cobra.Command{
	Use:   "add <address>...",
	Short: "Add folders, images or HDF5 containers",
	Long: `Add entries to the tree. An address is a path, or an HDF5 object
written as /path/file.h5::/internal/path. Without --parent the entries are
added at the top level.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parent, _ := cmd.Flags().GetString("parent")
		return withProject(cmd, func(_ *env, p *project.Project) error {
			f, err := lookupFolder(p.Tree(), parent)
			if err != nil {
				return err
			}
			for _, s := range args {
				a, err := tree.ParseAddress(s)
				if err != nil {
					return err
				}
				k, err := p.Tree().AddEntry(f, a)
				if err != nil {
					return err
				}
				okf(cmd.OutOrStdout(), "%s %s\n", k.Kind(), k.Address())
			}
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <address>...",
	Short: "Remove entries and delete their artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProject(cmd, func(_ *env, p *project.Project) error {
			for _, s := range args {
				k, err := lookup(p.Tree(), s)
				if err != nil {
					return err
				}
				if err := p.Tree().RemoveEntry(k); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "removed %s\n", k.Address())
			}
			return nil
		})
	},
}

func init() {
	lsCmd.Flags().IntP("expand", "e", 0, "Expand N levels first (-1: all)")
	lsCmd.Flags().StringP("query", "q", "", "JSONPath over the tree dump")
	addCmd.Flags().String("parent", "", "Add below this loaded folder")

	rootCmd.AddCommand(lsCmd, addCmd, rmCmd)
}
