package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/hybridrag/internal/async"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// Tool names.
const (
	ToolDenseSearch  = "dense_search"
	ToolSparseSearch = "sparse_search"
	ToolHybridSearch = "hybrid_search"
	ToolIndexStatus  = "index_status"
)

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        ToolHybridSearch,
		Description: "Primary search tool. Runs semantic (embedding) and keyword (BM25) search in parallel and merges the rankings with Reciprocal Rank Fusion. Use this unless you specifically need only one signal.",
	},
	{
		Name:        ToolDenseSearch,
		Description: "Semantic search only. Ranks chunks by cosine similarity between the query embedding and chunk embeddings. Good for paraphrased or conceptual questions.",
	},
	{
		Name:        ToolSparseSearch,
		Description: "Keyword search only. Ranks chunks with BM25 over lowercased word tokens. Good for exact names, identifiers and rare terms.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Report whether an index is loaded, its size and BM25 parameters, and which embedder answers queries. Use before searching to verify the index is ready.",
	},
}

// Server is the MCP server for hybridrag. It exposes one Retriever; the
// retriever's index may be swapped underneath it at any time.
type Server struct {
	mcp       *mcp.Server
	retriever *search.Retriever
	indexDir  string
	metrics   *telemetry.QueryMetrics
	load      *async.LoadProgress
	logger    *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLoadProgress makes index_status report the state of a background
// index load.
func WithLoadProgress(p *async.LoadProgress) ServerOption {
	return func(s *Server) {
		s.load = p
	}
}

// NewServer creates a new MCP server. indexDir is reported by index_status.
func NewServer(retriever *search.Retriever, indexDir string, opts ...ServerOption) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}

	s := &Server{
		retriever: retriever,
		indexDir:  indexDir,
		metrics:   telemetry.NewQueryMetrics(telemetry.DefaultConfig()),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Capabilities are inferred from registered tools and resources.
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    version.Name,
		Version: version.Version,
	}, nil)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return version.Name, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-style arguments and returns
// its structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolDenseSearch:
		in, err := decodeArgs[DenseSearchInput](args)
		if err != nil {
			return nil, err
		}
		return s.denseSearch(ctx, in)
	case ToolSparseSearch:
		in, err := decodeArgs[SparseSearchInput](args)
		if err != nil {
			return nil, err
		}
		return s.sparseSearch(ctx, in)
	case ToolHybridSearch:
		in, err := decodeArgs[HybridSearchInput](args)
		if err != nil {
			return nil, err
		}
		return s.hybridSearch(ctx, in)
	case ToolIndexStatus:
		return s.indexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	if len(args) == 0 {
		return in, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return in, NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return in, nil
}

func (s *Server) denseSearch(ctx context.Context, in DenseSearchInput) (SearchOutput, error) {
	if err := checkQuery(in.Query); err != nil {
		return SearchOutput{}, err
	}
	if err := checkCount("top_k", in.TopK); err != nil {
		return SearchOutput{}, err
	}
	return s.run(ctx, ToolDenseSearch, in.Query, func(ctx context.Context) ([]search.FusedResult, error) {
		ranked, err := s.retriever.DenseSearch(ctx, in.Query, in.TopK)
		if err != nil {
			return nil, err
		}
		return s.retriever.Hydrate(ranked)
	})
}

func (s *Server) sparseSearch(ctx context.Context, in SparseSearchInput) (SearchOutput, error) {
	if err := checkQuery(in.Query); err != nil {
		return SearchOutput{}, err
	}
	if err := checkCount("top_k", in.TopK); err != nil {
		return SearchOutput{}, err
	}
	return s.run(ctx, ToolSparseSearch, in.Query, func(ctx context.Context) ([]search.FusedResult, error) {
		ranked, err := s.retriever.SparseSearch(ctx, in.Query, in.TopK)
		if err != nil {
			return nil, err
		}
		return s.retriever.Hydrate(ranked)
	})
}

func (s *Server) hybridSearch(ctx context.Context, in HybridSearchInput) (SearchOutput, error) {
	if err := checkQuery(in.Query); err != nil {
		return SearchOutput{}, err
	}
	for _, c := range []struct {
		name string
		v    int
	}{{"top_k_each", in.TopKEach}, {"rrf_k", in.RRFK}, {"top_n", in.TopN}} {
		if err := checkCount(c.name, c.v); err != nil {
			return SearchOutput{}, err
		}
	}
	return s.run(ctx, ToolHybridSearch, in.Query, func(ctx context.Context) ([]search.FusedResult, error) {
		return s.retriever.HybridSearch(ctx, in.Query, in.TopKEach, in.RRFK, in.TopN)
	})
}

// run executes one search with request-scoped logging and error mapping.
func (s *Server) run(ctx context.Context, tool, query string, fn func(context.Context) ([]search.FusedResult, error)) (SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("tool_call_started",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.String("query", query))

	mode := strings.TrimSuffix(tool, "_search")
	results, err := fn(ctx)
	duration := time.Since(start)
	s.metrics.Record(telemetry.QueryEvent{
		Mode:        mode,
		Query:       query,
		ResultCount: len(results),
		Latency:     duration,
		Failed:      err != nil,
	})
	if err != nil {
		s.logger.Error("tool_call_failed",
			slog.String("request_id", requestID),
			slog.String("tool", tool),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return SearchOutput{}, MapError(err)
	}

	s.logger.Info("tool_call_completed",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return SearchOutput{Query: query, Mode: mode, Results: toResultOutputs(results)}, nil
}

func (s *Server) indexStatus(ctx context.Context) IndexStatusOutput {
	st := s.retriever.Status()
	emb := s.retriever.Embedder()
	defaults := s.retriever.Defaults()

	out := IndexStatusOutput{
		Loaded:   st.Loaded,
		IndexDir: s.indexDir,
		Embedder: EmbedderInfo{
			Model:      st.EmbedderModel,
			Dimensions: emb.Dimensions(),
			Available:  emb.Available(ctx),
		},
		Defaults: DefaultsInfo{
			TopKEach: defaults.TopKEach,
			RRFK:     defaults.RRFK,
			TopN:     defaults.TopN,
		},
		Index:   IndexStats{Swaps: st.Swaps},
		Queries: queryStats(s.metrics.Snapshot()),
	}
	if !st.Loaded {
		if s.load != nil {
			snap := s.load.Snapshot()
			out.Load = &snap
		}
		return out
	}

	m := st.Manifest
	out.Index = IndexStats{
		Chunks:        st.Chunks,
		Dimensions:    st.Dimensions,
		DenseBackend:  st.DenseBackend,
		FormatVersion: m.FormatVersion,
		LoadedAt:      st.LoadedAt.UTC().Format(time.RFC3339),
		Swaps:         st.Swaps,
	}
	if !m.CreatedAt.IsZero() {
		out.Index.BuiltAt = m.CreatedAt.UTC().Format(time.RFC3339)
	}
	out.Embedder.BuiltWith = m.EmbedderModel
	out.BM25 = BM25Stats{
		K1:         m.BM25.K1,
		B:          m.BM25.B,
		IDF:        string(m.BM25.IDF),
		Vocabulary: m.Vocabulary,
		AvgDocLen:  m.AvgDocLen,
	}
	return out
}

func queryStats(snap telemetry.Snapshot) QueryStats {
	qs := QueryStats{
		Since:           snap.Since.UTC().Format(time.RFC3339),
		Total:           snap.TotalQueries,
		Failed:          snap.FailedQueries,
		ByMode:          snap.ModeCounts,
		Latency:         make(map[string]int64, len(snap.Latency)),
		ZeroResults:     snap.ZeroResultCount,
		RecentZeroHits:  snap.ZeroResults,
		RepeatedQueries: snap.RepeatCount,
	}
	for bucket, n := range snap.Latency {
		qs.Latency[string(bucket)] = n
	}
	for i, tc := range snap.TopTerms {
		if i == 10 {
			break
		}
		qs.TopTerms = append(qs.TopTerms, TermStat{Term: tc.Term, Count: tc.Count})
	}
	return qs
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	desc := make(map[string]string, len(tools))
	for _, t := range tools {
		desc[t.Name] = t.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolHybridSearch, Description: desc[ToolHybridSearch]}, s.mcpHybridSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolDenseSearch, Description: desc[ToolDenseSearch]}, s.mcpDenseSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSparseSearch, Description: desc[ToolSparseSearch]}, s.mcpSparseSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexStatus, Description: desc[ToolIndexStatus]}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpDenseSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input DenseSearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.denseSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(FormatSearchResults(out)), out, nil
}

func (s *Server) mcpSparseSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SparseSearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.sparseSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(FormatSearchResults(out)), out, nil
}

func (s *Server) mcpHybridSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input HybridSearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	out, err := s.hybridSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(FormatSearchResults(out)), out, nil
}

// mcpIndexStatusHandler leaves the content empty so the SDK fills it with
// the JSON of the structured output.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	return nil, s.indexStatus(ctx), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
