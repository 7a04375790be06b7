package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/pypack/pypack/internal/config"
	"github.com/pypack/pypack/internal/report"
	"github.com/pypack/pypack/pkg/packager"
)

var formatIdentifiers = map[config.Format][]string{
	config.FormatPyd: {"pyd"},
	config.FormatSo:  {"so"},
	config.FormatExe: {"exe"},
	config.FormatZip: {"zip"},
}

func newBuildCmd() *cobra.Command {
	var (
		output     string
		format     = config.PlatformDylib()
		noDeps     bool
		noOptimize bool
		bannerPath string
		excluded   []string
		configFile string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "build SOURCE_FILE",
		Short: "Build an artifact from a Python source file",
		Long: `Build packages a Python source file into a dynamic library (pyd, so),
a standalone executable (exe) or a source archive (zip). Local modules the
file statically imports are discovered and included unless --no-deps is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b := &config.Build{}
			if configFile != "" {
				root, err := config.Load(configFile)
				if err != nil {
					return err
				}
				*b = root.Build
			}

			flags := &config.Build{
				Entry:    args[0],
				Output:   output,
				Excluded: excluded,
				Workers:  workers,
				Banner:   bannerPath,
			}
			if cmd.Flags().Changed("format") || b.Format == "" {
				flags.Format = format.String()
			}
			if noDeps {
				flags.IncludeDeps = boolPtr(false)
			}
			if noOptimize {
				flags.Optimize = boolPtr(false)
			}
			b.Merge(flags)

			if err := b.Prepare(); err != nil {
				return err
			}

			log := newLogger()
			res, err := packager.New(log).WithProgress(os.Stderr).Run(cmd.Context(), b)
			if err != nil {
				return err
			}

			if err := report.Render(cmd.OutOrStdout(), b.Output, res.Units); err != nil {
				return err
			}

			if !res.Success {
				return &exitError{code: ExitBuildFailed, msg: "one or more backend invocations failed"}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packaged %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default: current directory)")
	cmd.Flags().VarP(
		enumflag.New(&format, "format", formatIdentifiers, enumflag.EnumCaseInsensitive),
		"format", "f", "target format: pyd, so, exe or zip (default: platform dynamic library)")
	cmd.Flags().BoolVar(&noDeps, "no-deps", false, "build only the entry file (graph is still resolved for diagnostics)")
	cmd.Flags().BoolVar(&noOptimize, "no-optimize", false, "disable backend optimization")
	cmd.Flags().StringVarP(&bannerPath, "banner", "b", "", "banner file injected into produced artifacts")
	cmd.Flags().StringArrayVar(&excluded, "exclude", nil, "glob pattern of files to exclude (repeatable)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "max concurrent backend invocations (default: CPU count)")

	return cmd
}

func boolPtr(b bool) *bool { return &b }
