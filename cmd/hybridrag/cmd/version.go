package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/output"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// versionReport adds the on-disk index format this binary reads and writes,
// so a mismatched index directory can be told apart from a stale binary.
type versionReport struct {
	version.BuildInfo
	IndexFormat int `json:"index_format"`
}

func newVersionCmd() *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the binary version and supported index format",
		Long: `Print the hybridrag version, git commit, build date and Go version,
together with the index format version that build and serve expect in
manifest.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(w, version.Short())
				return err
			case jsonOutput:
				return output.New(w, true).JSON(versionReport{
					BuildInfo:   version.GetInfo(),
					IndexFormat: store.FormatVersion,
				})
			}
			_, err := fmt.Fprintf(w, "%s\nindex format %d\n", version.String(), store.FormatVersion)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print build info and index format as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Print only the version number")

	return cmd
}
