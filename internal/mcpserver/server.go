// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes helmsman content tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/helmsman/internal/apperr"
	"github.com/starford/helmsman/internal/contentservice"
	"github.com/starford/helmsman/internal/models"
	"github.com/starford/helmsman/internal/srs"
)

const searchLimit = 20

// Server wraps the MCP server with helmsman tools.
type Server struct {
	mcp *server.MCPServer
	svc *contentservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *contentservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Helmsman",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("fetch_document",
		mcp.WithDescription("Fetch a markdown guide from the content repository and return its parsed tree "+
			"(title, sections, items, media, wikilinks). Served from the local cache when present."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Repository path of the document (e.g. guides/knots.md)")),
		mcp.WithBoolean("refresh", mcp.Description("Bypass the cache and fetch from the network")),
	), s.fetchDocument)

	s.mcp.AddTool(mcp.NewTool("sync_deck",
		mcp.WithDescription("Fetch every card of a flashcard deck folder. Stops early and reports skipped "+
			"files when the API quota runs out."),
		mcp.WithString("folder", mcp.Required(), mcp.Description("Deck folder (e.g. decks/knots)")),
		mcp.WithBoolean("refresh", mcp.Description("Bypass the cache and fetch from the network")),
		mcp.WithBoolean("due", mcp.Description("Only return cards due for review now")),
	), s.syncDeck)

	s.mcp.AddTool(mcp.NewTool("review_card",
		mcp.WithDescription("Apply one SM-2 review to a flashcard and return it with its next review date. "+
			"The caller keeps the card; nothing is stored server-side."),
		mcp.WithString("card", mcp.Required(), mcp.Description("Flashcard JSON as returned by sync_deck")),
		mcp.WithString("quality", mcp.Required(), mcp.Description("Recall quality"),
			mcp.Enum("again", "hard", "good", "easy")),
	), s.reviewCard)

	s.mcp.AddTool(mcp.NewTool("quota_status",
		mcp.WithDescription("Report the remaining API quota and when it resets."),
	), s.quotaStatus)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through fetched documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all fetched documents that link to the specified document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the document to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("get_markdown_dialect",
		mcp.WithDescription("Returns the markdown dialect the parser understands. "+
			"Read it before interpreting parsed trees or authoring content."),
	), s.getMarkdownDialect)

	s.mcp.AddResource(
		mcp.NewResource(DialectURI, "Markdown Dialect",
			mcp.WithResourceDescription("Markdown subset understood by the content parser."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDialectResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports err to the model with its kind, so it can tell a
// missing document from an exhausted quota.
func toolError(err error) *mcp.CallToolResult {
	if rl, ok := apperr.AsRateLimited(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("rate_limited: quota resets in %s", rl.ResetIn.Round(time.Second)))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", apperr.Kind(err), err))
}

func (s *Server) fetchDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetDocument(ctx, path, req.GetBool("refresh", false))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc)
}

func (s *Server) syncDeck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder, err := req.RequireString("folder")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	deck, err := s.svc.SyncDeck(ctx, folder, req.GetBool("refresh", false))
	if err != nil {
		return toolError(err), nil
	}
	if req.GetBool("due", false) {
		deck.Cards = s.svc.DueCards(deck.Cards)
	}
	return jsonResult(deck)
}

func (s *Server) reviewCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("card")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	qs, err := req.RequireString("quality")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var card models.Flashcard
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("card is not valid flashcard JSON: %v", err)), nil
	}
	if card.ID == "" {
		return mcp.NewToolResultError("card id is required"), nil
	}
	q, err := srs.ParseQuality(qs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Review(ctx, card, q)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out)
}

func (s *Server) quotaStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.QuotaStatus())
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, searchLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(links) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(links)
}

func (s *Server) getMarkdownDialect(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(MarkdownDialect), nil
}

func (s *Server) readDialectResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      DialectURI,
			MIMEType: "text/markdown",
			Text:     MarkdownDialect,
		},
	}, nil
}
