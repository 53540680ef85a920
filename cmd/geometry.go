package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/arcscope/arcscope/api"
	"github.com/arcscope/arcscope/internal/artifact"
	"github.com/arcscope/arcscope/internal/project"
	"github.com/arcscope/arcscope/internal/tree"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var geometryCmd = &cobra.Command{
	Use:   "geometry",
	Short: "Show and set detector geometries",
}

var geometryGetCmd = &cobra.Command{
	Use:   "get <address>",
	Short: "Show the geometry that applies to an entry and where it comes from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProject(cmd, func(_ *env, p *project.Project) error {
			k, err := geometryTarget(p, args[0])
			if err != nil {
				return err
			}
			r, err := p.Artifacts().Geometries.Resolve(k)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if r.From != nil {
				printf(w, "# %s of %s\n", r.Source, r.From.Address())
			} else {
				printf(w, "# %s\n", r.Source)
			}
			b, err := json.MarshalIndent(r.Geometry, "", "  ")
			if err != nil {
				return err
			}
			printf(w, "%s\n", b)
			return nil
		})
	},
}

var geometrySetCmd = &cobra.Command{
	Use:   "set <address>",
	Short: "Set the geometry override of one entry",
	Long: `Set the geometry override of one entry. Unset fields keep the value
currently in effect for the entry. --clear removes the override.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGeometry(cmd, args[0], func(g *artifact.Geometries) *artifact.Store[api.Geometry] { return g.Node })
	},
}

var geometryDefaultCmd = &cobra.Command{
	Use:   "default <folder>",
	Short: "Set the default geometry of a folder and everything below it",
	Long: `Set the default geometry of a folder. Entries below it without an
override use the nearest folder default. Pass the project directory itself
to set a project-wide default. --clear removes the default.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGeometry(cmd, args[0], func(g *artifact.Geometries) *artifact.Store[api.Geometry] { return g.Default })
	},
}

func setGeometry(cmd *cobra.Command, addr string, pick func(*artifact.Geometries) *artifact.Store[api.Geometry]) error {
	return withProject(cmd, func(_ *env, p *project.Project) error {
		k, err := geometryTarget(p, addr)
		if err != nil {
			return err
		}
		geos := p.Artifacts().Geometries
		store := pick(geos)
		if _, isFolder := k.(*tree.Folder); store == geos.Default && !isFolder {
			return fmt.Errorf("%s is not a folder", k.Address())
		}
		if unset, _ := cmd.Flags().GetBool("clear"); unset {
			return store.Delete(k)
		}

		r, err := geos.Resolve(k)
		if err != nil {
			return err
		}
		g := r.Geometry
		applyGeometryFlags(cmd.Flags(), &g)
		if err := api.Validate(g); err != nil {
			return err
		}
		if err := store.Set(k, g); err != nil {
			return err
		}
		okf(cmd.OutOrStdout(), "%s set for %s\n", store.Kind(), k.Address())
		return nil
	})
}

// geometryTarget accepts the project directory as a name for the root.
func geometryTarget(p *project.Project, addr string) (tree.Key, error) {
	if a, err := tree.ParseAddress(addr); err == nil && a.Path == p.Dir() && a.Internal == "" {
		return p.Tree().Root(), nil
	}
	return lookup(p.Tree(), addr)
}

func addGeometryFlags(fs *pflag.FlagSet) {
	fs.Float64("distance", 0, "Sample to detector distance (m)")
	fs.Float64("wavelength", 0, "Wavelength (m)")
	fs.Float64("pixel1", 0, "Pixel size, slow axis (m)")
	fs.Float64("pixel2", 0, "Pixel size, fast axis (m)")
	fs.Float64("poni1", 0, "Point of normal incidence, slow axis (m)")
	fs.Float64("poni2", 0, "Point of normal incidence, fast axis (m)")
	fs.Float64("rot1", 0, "Rotation 1 (rad)")
	fs.Float64("rot2", 0, "Rotation 2 (rad)")
	fs.Float64("rot3", 0, "Rotation 3 (rad)")
	fs.String("detector", "", "Detector model")
	fs.Bool("clear", false, "Remove the stored value")
}

// applyGeometryFlags copies only the flags given on the command line.
func applyGeometryFlags(fs *pflag.FlagSet, g *api.Geometry) {
	fields := map[string]*float64{
		"distance":   &g.Distance,
		"wavelength": &g.Wavelength,
		"pixel1":     &g.PixelSize1,
		"pixel2":     &g.PixelSize2,
		"poni1":      &g.Poni1,
		"poni2":      &g.Poni2,
		"rot1":       &g.Rot1,
		"rot2":       &g.Rot2,
		"rot3":       &g.Rot3,
	}
	for name, dst := range fields {
		if fs.Changed(name) {
			*dst, _ = fs.GetFloat64(name)
		}
	}
	if fs.Changed("detector") {
		g.Detector, _ = fs.GetString("detector")
	}
}

func init() {
	addGeometryFlags(geometrySetCmd.Flags())
	addGeometryFlags(geometryDefaultCmd.Flags())
	geometryCmd.AddCommand(geometryGetCmd, geometrySetCmd, geometryDefaultCmd)
	rootCmd.AddCommand(geometryCmd)
}
