// Package mcptools exposes the file tools over the Model Context Protocol.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"codeassist/internal/files"
	"codeassist/internal/patch"
	"codeassist/internal/vcs"
	"codeassist/internal/version"
	"codeassist/internal/webtext"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*webtext.Page, error)
}

type Tools struct {
	files *files.Service
	fetch Fetcher
}

func New(fs *files.Service, f Fetcher) *Tools {
	return &Tools{files: fs, fetch: f}
}

type tool struct {
	def    mcp.Tool
	handle server.ToolHandlerFunc
}

func (t *Tools) tools() []tool {
	return []tool{
		{mcp.NewTool("read_file",
			mcp.WithDescription("Read a local file by absolute path."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Absolute file path")),
		), t.readFile},
		{mcp.NewTool("create_file",
			mcp.WithDescription("Create or overwrite a file at an absolute path."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Absolute file path")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Full file content")),
		), t.createFile},
		{mcp.NewTool("update_file_lines",
			mcp.WithDescription("Insert, modify or delete lines addressed by zero-based line number. Insert places new lines after the given line."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Absolute file path")),
			mcp.WithArray("updates", mcp.Required(), mcp.Description("Edits: {line_number, new_content, action: insert|modify|delete}")),
			mcp.WithBoolean("dryRun", mcp.Description("Return the diff without writing")),
		), t.updateLines},
		{mcp.NewTool("update_file_match",
			mcp.WithDescription("Insert, modify or delete lines located by content. Exact mode matches every line containing the text; fuzzy mode picks the single most similar line."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Absolute file path")),
			mcp.WithArray("updates", mcp.Required(), mcp.Description("Edits: {content_to_match, new_content, action: insert|modify|delete}")),
			mcp.WithString("mode", mcp.Enum("exact", "fuzzy"), mcp.Description("Match mode, default exact")),
			mcp.WithNumber("minScore", mcp.Description("Fuzzy score threshold 0..100; omit to use the server default")),
			mcp.WithBoolean("dryRun", mcp.Description("Return the diff without writing")),
		), t.updateMatch},
		{mcp.NewTool("outline_file",
			mcp.WithDescription("List functions, classes and types of a Go, Python or JS/TS file with zero-based line ranges."),
			mcp.WithString("filepath", mcp.Required(), mcp.Description("Absolute file path")),
		), t.outlineFile},
		{mcp.NewTool("fetch_url",
			mcp.WithDescription("Fetch a web page and return its readable text."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http or https URL")),
		), t.fetchURL},
		{mcp.NewTool("git_status",
			mcp.WithDescription("Working tree status of a local git repository."),
			mcp.WithString("repoPath", mcp.Required(), mcp.Description("Absolute repository path")),
		), t.gitStatus},
	}
}

// Server builds an MCP server with every tool registered.
func (t *Tools) Server() *server.MCPServer {
	s := server.NewMCPServer("codeassist", version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, tl := range t.tools() {
		s.AddTool(tl.def, tl.handle)
	}
	return s
}

// ServeStdio runs the MCP server on stdin/stdout until EOF.
func (t *Tools) ServeStdio() error {
	return server.ServeStdio(t.Server())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

// decodeArg re-decodes one argument into a typed value so enum checks run.
func decodeArg(req mcp.CallToolRequest, name string, v any) error {
	raw, ok := req.GetArguments()[name]
	if !ok {
		return fmt.Errorf("%s is required", name)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (t *Tools) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := t.files.Read(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (t *Tools) createFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := t.files.Create(ctx, p, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"status": "success", "patchID": rec.ID})
}

func (t *Tools) updateLines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var edits []patch.LineEdit
	if err := decodeArg(req, "updates", &edits); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := t.files.UpdateLines(ctx, p, edits, req.GetBool("dryRun", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (t *Tools) updateMatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var edits []patch.ContentEdit
	if err := decodeArg(req, "updates", &edits); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := patch.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	minScore := files.DefaultMinScore
	if _, ok := req.GetArguments()["minScore"]; ok {
		minScore = req.GetInt("minScore", files.DefaultMinScore)
	}
	res, err := t.files.UpdateMatch(ctx, p, edits, mode, minScore, req.GetBool("dryRun", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (t *Tools) outlineFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	syms, err := t.files.Outline(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(syms)
}

func (t *Tools) fetchURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, err := t.fetch.Fetch(ctx, u)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(page)
}

func (t *Tools) gitStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("repoPath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	repo, err := vcs.Open(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := repo.Status()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}
