package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// MinDiskSpaceBytes is the headroom a rebuild needs on top of the current
// index (100MB).
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace verifies the volume holding indexDir can stage a rebuild.
// Save writes the new index into a sibling directory before swapping it in,
// so the old and new copies coexist for a moment.
func (c *Checker) CheckDiskSpace(indexDir string) CheckResult {
	result := CheckResult{
		Name:     "disk_space",
		Required: true,
	}

	volume := existingAncestor(filepath.Dir(filepath.Clean(indexDir)))
	var stat syscall.Statfs_t
	if err := syscall.Statfs(volume, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot stat the volume holding %s: %v", indexDir, err)
		return result
	}

	available := int64(stat.Bavail) * int64(stat.Bsize)
	current := indexSize(indexDir)
	needed := current + MinDiskSpaceBytes

	result.Message = fmt.Sprintf("%s free, a rebuild needs %s", ui.FormatBytes(available), ui.FormatBytes(needed))
	result.Details = fmt.Sprintf("staging under %s (current index: %s)", volume, ui.FormatBytes(current))
	if available < needed {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusPass
	return result
}

// indexSize sums the artifact files of an existing index. A missing index
// counts as zero.
func indexSize(indexDir string) int64 {
	var total int64
	for _, name := range []string{store.ManifestFile, store.VectorsFile, store.MetadataFile, store.SparseFile} {
		if st, err := os.Stat(filepath.Join(indexDir, name)); err == nil {
			total += st.Size()
		}
	}
	return total
}
