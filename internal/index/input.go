package index

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 16 * 1024 * 1024

// ReadChunksFile reads chunk records from a JSON array or JSONL file.
// maxChunks > 0 keeps only the first maxChunks records.
func ReadChunksFile(path string, maxChunks int) ([]store.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rerrors.New(rerrors.ErrCodeFileNotFound, "chunk file not found: "+path, err)
		}
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()
	return ReadChunks(f, maxChunks)
}

// ReadChunks decodes chunk records. The format is detected from the first
// non-space byte: '[' means a JSON array, anything else JSONL.
func ReadChunks(r io.Reader, maxChunks int) ([]store.Chunk, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return []store.Chunk{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk input: %w", err)
	}

	var chunks []store.Chunk
	if first == '[' {
		chunks, err = decodeArray(br, maxChunks)
	} else {
		chunks, err = decodeLines(br, maxChunks)
	}
	if err != nil {
		return nil, err
	}
	AssignChunkIDs(chunks)
	return chunks, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func decodeArray(r io.Reader, maxChunks int) ([]store.Chunk, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return nil, invalidInput("malformed chunk array", err)
	}
	var chunks []store.Chunk
	for dec.More() {
		if maxChunks > 0 && len(chunks) >= maxChunks {
			break
		}
		var c store.Chunk
		if err := dec.Decode(&c); err != nil {
			return nil, invalidInput(fmt.Sprintf("malformed chunk record %d", len(chunks)), err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func decodeLines(r io.Reader, maxChunks int) ([]store.Chunk, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var chunks []store.Chunk
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		if maxChunks > 0 && len(chunks) >= maxChunks {
			break
		}
		var c store.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, invalidInput(fmt.Sprintf("malformed chunk on line %d", line), err).
				WithIntDetail("line", line)
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read chunk lines: %w", err)
	}
	return chunks, nil
}

func invalidInput(msg string, cause error) *rerrors.RAGError {
	return rerrors.ValidationError(msg, cause)
}

// AssignChunkIDs fills empty chunk ids with sha1(url + n) in hex, where n is
// the chunk's position among chunks sharing its url.
func AssignChunkIDs(chunks []store.Chunk) {
	perURL := make(map[string]int)
	for i := range chunks {
		n := perURL[chunks[i].URL]
		perURL[chunks[i].URL] = n + 1
		if chunks[i].ChunkID != "" {
			continue
		}
		chunks[i].ChunkID = DeriveChunkID(chunks[i].URL, n)
	}
}

// DeriveChunkID returns the id of the n-th chunk of url.
func DeriveChunkID(url string, n int) string {
	sum := sha1.Sum([]byte(url + strconv.Itoa(n)))
	return hex.EncodeToString(sum[:])
}
