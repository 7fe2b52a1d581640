package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-docfill/internal/config"
	"github.com/a3tai/mcp-docfill/internal/descriptions"
	"github.com/a3tai/mcp-docfill/internal/docfill"
	"github.com/a3tai/mcp-docfill/internal/docfill/placeholder"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
	"github.com/a3tai/mcp-docfill/internal/templates"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *docfill.Service
	library   *templates.Library
	mcpServer *server.MCPServer
	logger    *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, service *docfill.Service, library *templates.Library, logger *zap.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if library == nil {
		return nil, fmt.Errorf("template library cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		service:   service,
		library:   library,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_generate",
		mcp.WithDescription(descriptions.GenerateDescription),
		mcp.WithString("template",
			mcp.Required(),
			mcp.Description("Template file name, relative to the template directory"),
		),
		mcp.WithString("table_id", mcp.Description("Table ID (uses the selection if empty)")),
		mcp.WithString("record_id", mcp.Description("Record ID (uses the selection if empty)")),
		mcp.WithString("target_field_id", mcp.Description("Attachment field to write the PDF to; empty saves locally")),
		mcp.WithBoolean("include_pdf", mcp.Description("Return the PDF as an embedded resource")),
	), s.handleGenerate)

	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_inspect_template",
		mcp.WithDescription(descriptions.InspectTemplateDescription),
		mcp.WithString("template",
			mcp.Required(),
			mcp.Description("Template file name, relative to the template directory"),
		),
		mcp.WithBoolean("resolve", mcp.Description("Resolve keys against a record")),
		mcp.WithString("table_id", mcp.Description("Table ID for resolve (uses the selection if empty)")),
		mcp.WithString("record_id", mcp.Description("Record ID for resolve (uses the selection if empty)")),
	), s.handleInspectTemplate)

	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_preview_record",
		mcp.WithDescription(descriptions.PreviewRecordDescription),
		mcp.WithString("table_id", mcp.Description("Table ID (uses the selection if empty)")),
		mcp.WithString("record_id", mcp.Description("Record ID (uses the selection if empty)")),
	), s.handlePreviewRecord)

	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_list_fields",
		mcp.WithDescription(descriptions.ListFieldsDescription),
		mcp.WithString("table_id", mcp.Description("Table ID (uses the selection if empty)")),
	), s.handleListFields)

	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_list_templates",
		mcp.WithDescription(descriptions.ListTemplatesDescription),
		mcp.WithString("query", mcp.Description("Optional name fragment")),
	), s.handleListTemplates)

	s.mcpServer.AddTool(mcp.NewTool(
		"docfill_server_info",
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

func stringArg(request mcp.CallToolRequest, key string) string {
	if v, ok := request.GetArguments()[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func boolArg(request mcp.CallToolRequest, key string) bool {
	switch v := request.GetArguments()[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// Handler functions
func (s *Server) handleGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tpl, err := s.library.Load(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec := &docfill.Recorder{}
	result, err := s.service.Generate(ctx, docfill.GenerateRequest{
		Template:      tpl,
		TableID:       stringArg(request, "table_id"),
		RecordID:      stringArg(request, "record_id"),
		TargetFieldID: stringArg(request, "target_field_id"),
		Reporter:      rec,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := s.formatGenerateResult(name, result, rec)
	if !boolArg(request, "include_pdf") {
		return mcp.NewToolResultText(text), nil
	}
	return mcp.NewToolResultResource(text, mcp.BlobResourceContents{
		URI:      "docfill://" + result.RunID + "/" + result.FileName,
		MIMEType: store.PDFMimeType,
		Blob:     base64.StdEncoding.EncodeToString(result.PDF),
	}), nil
}

func (s *Server) handleInspectTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tpl, err := s.library.Load(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var (
		record          *placeholder.RecordMap
		resolvedAgainst string
	)
	if boolArg(request, "resolve") {
		record, err = s.service.Preview(ctx, stringArg(request, "table_id"), stringArg(request, "record_id"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resolvedAgainst = fmt.Sprintf("%d field(s)", record.Len())
	}
	report, err := s.service.Inspect(tpl, record)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(s.formatInspectResult(name, report, resolvedAgainst)), nil
}

func (s *Server) handlePreviewRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record, err := s.service.Preview(ctx, stringArg(request, "table_id"), stringArg(request, "record_id"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	text := fmt.Sprintf("Record map (%d fields):\n", record.Len())
	text += record.Dump()
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleListFields(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.service.Fields(ctx, stringArg(request, "table_id"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.formatFieldList(list)), nil
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := stringArg(request, "query")
	entries, err := s.library.List(query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(entries) == 0 {
		text := fmt.Sprintf("No templates found in directory: %s", s.library.Dir())
		if query != "" {
			text += fmt.Sprintf(" (searched for: %s)", query)
		}
		return mcp.NewToolResultText(text), nil
	}

	text := fmt.Sprintf("Found %d template(s) in directory: %s\n\n", len(entries), s.library.Dir())
	for i, e := range entries {
		text += fmt.Sprintf("%d. %s (%d bytes, modified %s)\n", i+1, e.Name, e.Size, e.Modified.Format(time.RFC3339))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleServerInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatServerInfo()), nil
}

// Formatting methods
func (s *Server) formatGenerateResult(name string, result *docfill.GenerateResult, rec *docfill.Recorder) string {
	text := fmt.Sprintf("Generated %s from %s\n", result.FileName, name)
	text += fmt.Sprintf("Record: %s / %s\n", result.TableID, result.RecordID)
	text += fmt.Sprintf("Pages: %d\n", result.Pages)
	text += fmt.Sprintf("Placeholders replaced: %d\n", result.Replaced)
	if len(result.Unresolved) > 0 {
		text += fmt.Sprintf("Unresolved placeholders: %s\n", strings.Join(result.Unresolved, ", "))
	}
	text += fmt.Sprintf("Status: %s\n", result.Persist.Status)
	if result.Persist.Token != "" {
		text += fmt.Sprintf("File token: %s\n", result.Persist.Token)
	}
	if result.Persist.FallbackPath != "" {
		text += fmt.Sprintf("Saved locally: %s\n", result.Persist.FallbackPath)
	}
	text += fmt.Sprintf("Duration: %s\n", result.Duration.Round(time.Millisecond))

	for _, level := range []docfill.Level{docfill.LevelWarning, docfill.LevelInfo} {
		for _, msg := range rec.Notifications(level) {
			text += fmt.Sprintf("[%s] %s\n", level, msg)
		}
	}
	return text
}

func (s *Server) formatInspectResult(name string, report *docfill.InspectResult, resolvedAgainst string) string {
	text := fmt.Sprintf("Template: %s\n", name)
	text += fmt.Sprintf("Placeholders: %d occurrence(s), %d distinct key(s)\n", report.Total, len(report.Keys))
	if resolvedAgainst != "" {
		text += fmt.Sprintf("Resolved against a record with %s; unresolved occurrences: %d\n", resolvedAgainst, report.Unresolved)
	}
	if len(report.Keys) == 0 {
		return text + "\nNo {{placeholder}} keys found.\n"
	}

	text += "\nKeys:\n"
	for i, k := range report.Keys {
		text += fmt.Sprintf("%d. {{%s}} x%d", i+1, k.Key, k.Occurrences)
		if k.Resolved != nil {
			if *k.Resolved {
				text += fmt.Sprintf(" -> %q", k.Value)
			} else {
				text += " -> unresolved"
			}
		}
		text += "\n"
	}
	return text
}

func (s *Server) formatFieldList(list *docfill.FieldList) string {
	text := fmt.Sprintf("Table: %s\n", list.TableID)
	text += fmt.Sprintf("Fields (%d):\n", len(list.Fields))
	for i, f := range list.Fields {
		text += fmt.Sprintf("%d. %s (id: %s, type: %d)\n", i+1, f.Name, f.ID, f.Type)
	}

	if len(list.Attachments) == 0 {
		return text + "\nNo attachment fields; generated PDFs can only be saved locally.\n"
	}
	text += "\nAttachment fields (usable as target_field_id):\n"
	for _, f := range list.Attachments {
		text += fmt.Sprintf("  • %s (id: %s)\n", f.Name, f.ID)
	}
	return text
}

func (s *Server) formatServerInfo() string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("📁 Template Directory: %s\n", s.library.Dir())
	text += fmt.Sprintf("📁 Output Directory: %s\n", s.config.OutputDir)
	text += fmt.Sprintf("🗄️  Store: %s\n", s.config.Store)
	text += fmt.Sprintf("🖨️  Renderer: %s (%dpx wide)\n", s.config.Renderer, s.config.ViewportWidth)
	text += fmt.Sprintf("✅ Read-back verification: %t\n", s.config.Verify)
	text += fmt.Sprintf("📏 Max File Size: %d MB\n\n", s.config.MaxFileSize/(1024*1024))

	text += "🛠️  Available Tools:\n"
	names := make([]string, 0, len(descriptions.ToolUsage))
	for name := range descriptions.ToolUsage {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		text += fmt.Sprintf("  • %s: %s\n", name, descriptions.ToolUsage[name])
	}

	text += "\n" + descriptions.UsageGuidance + "\n"
	return text
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsSSEMode() {
		return s.runSSEMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server over standard I/O
func (s *Server) runStdioMode(_ context.Context) error {
	s.logger.Info("starting docfill MCP server in stdio mode",
		zap.String("template_dir", s.library.Dir()))

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runSSEMode serves MCP over HTTP server-sent events until ctx is done
func (s *Server) runSSEMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))
	s.logger.Info("starting docfill MCP server in sse mode", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve sse: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down sse server: %w", err)
		}
		<-errCh
		return nil
	}
}
