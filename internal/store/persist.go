package store

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Artifact file names inside an index directory.
const (
	ManifestFile = "manifest.json"
	VectorsFile  = "vectors.f32"
	MetadataFile = "metadata.db"
	SparseFile   = "bm25.gob"
)

var vectorsMagic = [4]byte{'H', 'R', 'V', '1'}

// Save writes the index into a temporary sibling of dir and then renames it
// over dir, so readers never observe a half-written directory.
func (idx *Index) Save(ctx context.Context, dir string) error {
	if idx == nil || idx.exact == nil {
		return rerrors.NotLoadedError("index")
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create index parent directory: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeVectors(filepath.Join(tmp, VectorsFile), idx.exact); err != nil {
		return err
	}
	if err := writeMetadata(ctx, filepath.Join(tmp, MetadataFile), idx.Chunks); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(tmp, SparseFile), idx.Sparse.state()); err != nil {
		return err
	}
	// Manifest goes last: its presence marks a complete directory.
	if err := writeJSON(filepath.Join(tmp, ManifestFile), idx.Manifest); err != nil {
		return err
	}

	if err := swapDir(tmp, dir); err != nil {
		return err
	}
	committed = true

	slog.Info("index_saved",
		slog.String("dir", dir),
		slog.Int("chunks", idx.Manifest.ChunkCount),
		slog.Int("dimensions", idx.Manifest.Dimensions))
	return nil
}

// swapDir moves staged into place, keeping the old directory until the
// rename has succeeded.
func swapDir(staged, dir string) error {
	var old string
	if _, err := os.Stat(dir); err == nil {
		old = fmt.Sprintf("%s.old-%d", dir, time.Now().UnixNano())
		if err := os.Rename(dir, old); err != nil {
			return fmt.Errorf("failed to move previous index aside: %w", err)
		}
	}
	if err := os.Rename(staged, dir); err != nil {
		if old != "" {
			_ = os.Rename(old, dir)
		}
		return fmt.Errorf("failed to install index directory: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			slog.Warn("index_old_dir_cleanup_failed", slog.String("dir", old), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Exists reports whether dir holds a complete index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

// ReadManifest reads only the manifest of an index directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, rerrors.New(rerrors.ErrCodeFileNotFound, "no index found in "+dir, err).
				WithSuggestion("Run 'hybridrag build' first")
		}
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, rerrors.CorruptIndexError("manifest is not valid JSON", err)
	}
	if m.FormatVersion != FormatVersion {
		return m, rerrors.CorruptIndexError(
			fmt.Sprintf("index format version %d, expected %d", m.FormatVersion, FormatVersion), nil)
	}
	return m, nil
}

// Load reads all artifacts of dir and verifies that they describe the same
// chunks in the same order. opts selects the dense backend; its BM25 field
// is ignored since the persisted parameters are authoritative.
func Load(ctx context.Context, dir string, opts BuildOptions) (*Index, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	vm, err := readVectors(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, err
	}

	chunks, err := readMetadata(ctx, filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, rerrors.CorruptIndexError("failed to read chunk metadata", err).
			WithDetail("file", MetadataFile)
	}

	var st sparseState
	if err := readGob(filepath.Join(dir, SparseFile), &st); err != nil {
		return nil, err
	}
	sparse, err := sparseFromState(st)
	if err != nil {
		return nil, err
	}

	if len(chunks) != m.ChunkCount || vm.rows != m.ChunkCount || vm.dim != m.Dimensions {
		return nil, rerrors.CorruptIndexError("index artifacts disagree with the manifest", nil).
			WithIntDetail("manifest_chunks", m.ChunkCount).
			WithIntDetail("metadata_chunks", len(chunks)).
			WithIntDetail("vector_rows", vm.rows).
			WithIntDetail("manifest_dim", m.Dimensions).
			WithIntDetail("vector_dim", vm.dim)
	}

	cs, err := NewChunkStore(chunks)
	if err != nil {
		return nil, rerrors.CorruptIndexError("persisted chunks are invalid", err)
	}
	exact := newDenseIndexFromMatrix(vm.data, vm.dim, cs.IDs())

	idx, err := assemble(cs, exact, sparse, m, opts)
	if err != nil {
		if rerrors.GetCode(err) == rerrors.ErrCodeBuildFailed {
			return nil, rerrors.CorruptIndexError("index artifacts are not aligned", err)
		}
		return nil, err
	}
	return idx, nil
}

type vectorMatrix struct {
	rows int
	dim  int
	data []float32
}

func writeVectors(path string, d *DenseIndex) error {
	return writeFile(path, func(w io.Writer) error {
		if _, err := w.Write(vectorsMagic[:]); err != nil {
			return err
		}
		header := [2]uint32{uint32(d.Len()), uint32(d.dim)}
		if err := binary.Write(w, binary.LittleEndian, header); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, d.matrix)
	})
}

func readVectors(path string) (vectorMatrix, error) {
	var vm vectorMatrix
	f, err := os.Open(path)
	if err != nil {
		return vm, rerrors.CorruptIndexError("vector file missing", err).WithDetail("file", VectorsFile)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != vectorsMagic {
		return vm, rerrors.CorruptIndexError("vector file has a bad header", err).WithDetail("file", VectorsFile)
	}
	var header [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return vm, rerrors.CorruptIndexError("vector file has a bad header", err).WithDetail("file", VectorsFile)
	}

	vm.rows, vm.dim = int(header[0]), int(header[1])
	if info, err := f.Stat(); err == nil {
		want := int64(len(vectorsMagic)) + 8 + int64(vm.rows)*int64(vm.dim)*4
		if info.Size() != want {
			return vm, rerrors.CorruptIndexError("vector file size does not match its header", nil).
				WithDetail("file", VectorsFile).
				WithIntDetail("rows", vm.rows).
				WithIntDetail("dim", vm.dim)
		}
	}
	vm.data = make([]float32, vm.rows*vm.dim)
	if err := binary.Read(r, binary.LittleEndian, vm.data); err != nil {
		return vm, rerrors.CorruptIndexError("vector file is truncated", err).
			WithDetail("file", VectorsFile).
			WithIntDetail("rows", vm.rows).
			WithIntDetail("dim", vm.dim)
	}
	return vm, nil
}

func writeGob(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(v)
	})
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return rerrors.CorruptIndexError("sparse state missing", err).WithDetail("file", filepath.Base(path))
	}
	defer f.Close()
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(v); err != nil {
		return rerrors.CorruptIndexError("failed to decode sparse state", err).WithDetail("file", filepath.Base(path))
	}
	return nil
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// writeFile runs fn against a buffered file and fsyncs it.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
