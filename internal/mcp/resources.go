package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ChunkURIPrefix prefixes chunk resource URIs: chunk://<chunk_id>.
const ChunkURIPrefix = "chunk://"

// registerResources exposes every chunk of the installed index through a
// URI template, so search results can be re-read by id after a swap.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "chunk",
		URITemplate: ChunkURIPrefix + "{chunk_id}",
		Description: "Text of one indexed chunk, addressed by chunk_id",
		MIMEType:    "text/plain",
	}, s.handleReadChunk)
}

func (s *Server) handleReadChunk(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	text, err := s.ReadChunk(uri)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}, nil
}

// ReadChunk resolves a chunk:// URI to the chunk text. The source url, when
// known, is prepended as a "Source:" line.
func (s *Server) ReadChunk(uri string) (string, error) {
	id, ok := strings.CutPrefix(uri, ChunkURIPrefix)
	if !ok || id == "" {
		return "", mcp.ResourceNotFoundError(uri)
	}

	chunk, found, err := s.retriever.Lookup(id)
	if err != nil {
		return "", MapError(err)
	}
	if !found {
		return "", mcp.ResourceNotFoundError(uri)
	}

	if chunk.URL == "" {
		return chunk.Text, nil
	}
	return "Source: " + chunk.URL + "\n\n" + chunk.Text, nil
}
