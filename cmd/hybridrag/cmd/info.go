package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// indexFiles lists the artifacts of an index directory in display order.
var indexFiles = []string{store.ManifestFile, store.VectorsFile, store.MetadataFile, store.SparseFile}

func newInfoCmd(g *globalOptions) *cobra.Command {
	var (
		indexDir   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the manifest and size of the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := g.indexDir(indexDir)
			if err != nil {
				return err
			}
			info, err := collectIndexInfo(dir)
			if err != nil {
				return err
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), g.colorDisabled())
			if jsonOutput {
				return renderer.RenderJSON(info)
			}
			return renderer.Render(info, indexFiles)
		},
	}

	cmd.Flags().StringVar(&indexDir, "index", "", "Index directory (default from config index.dir)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// collectIndexInfo reads the manifest and stats the artifacts of dir
// without loading the index.
func collectIndexInfo(dir string) (ui.IndexInfo, error) {
	m, err := store.ReadManifest(dir)
	if err != nil {
		return ui.IndexInfo{}, err
	}

	info := ui.IndexInfo{
		Dir:           dir,
		FormatVersion: m.FormatVersion,
		CreatedAt:     m.CreatedAt,
		Chunks:        m.ChunkCount,
		Dimensions:    m.Dimensions,
		EmbedderModel: m.EmbedderModel,
		Vocabulary:    m.Vocabulary,
		AvgDocLen:     m.AvgDocLen,
		K1:            m.BM25.K1,
		B:             m.BM25.B,
		IDF:           string(m.BM25.IDF),
		Files:         make(map[string]int64, len(indexFiles)),
	}
	for _, name := range indexFiles {
		st, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		info.Files[name] = st.Size()
		info.TotalSize += st.Size()
	}
	return info, nil
}
