package mcp

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-docfill/internal/config"
	"github.com/a3tai/mcp-docfill/internal/docfill"
	"github.com/a3tai/mcp-docfill/internal/docfill/docx/docxtest"
	"github.com/a3tai/mcp-docfill/internal/docfill/persist"
	"github.com/a3tai/mcp-docfill/internal/docfill/render"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
	"github.com/a3tai/mcp-docfill/internal/docfill/value"
	"github.com/a3tai/mcp-docfill/internal/templates"
)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	fs     afero.Fs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore(&store.Fixture{
		Selection: store.Selection{TableID: "tblOrders", RecordID: "rec42"},
		Tables: []store.TableFixture{{
			ID:   "tblOrders",
			Name: "Orders",
			Fields: []store.Field{
				{ID: "fldCustomer", Name: "Customer Name", Type: store.FieldTypeText},
				{ID: "fldTotal", Name: "Total", Type: store.FieldTypeNumber},
				{ID: "fldPdf", Name: "Invoice PDF", Type: store.FieldTypeAttachment},
			},
			Records: []store.RecordFixture{{
				ID:    "rec42",
				Cells: map[string]any{"fldCustomer": "Globex", "fldTotal": 1250.5},
			}},
		}},
	})

	fs := afero.NewMemMapFs()
	tpl := docxtest.Build(docxtest.Paragraph("Invoice for {{customer_name}}") +
		docxtest.Paragraph("Total: {{Total}} {{Currency}}"))
	require.NoError(t, afero.WriteFile(fs, "/tpl/invoice.docx", tpl, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/tpl/empty.docx", docxtest.Build(docxtest.Paragraph("No keys")), 0o644))

	cfg := config.DefaultConfig()
	cfg.OutputDir = "/out"
	cfg.ServerName = "docfill-test"

	r, err := render.NewNativeRasterizer(render.NativeOptions{SettleTimeout: time.Second}, nil)
	require.NoError(t, err)
	coordinator := persist.NewCoordinator(s, persist.NewDirFallback(fs, cfg.OutputDir),
		persist.Options{VerifyDelay: time.Millisecond}, nil)
	svc := docfill.NewService(s, render.NewPipeline(r, nil), coordinator,
		value.NewNormalizer(value.WithLocation(time.UTC)), nil, nil)
	t.Cleanup(func() { svc.Close() })

	lib, err := templates.NewLibrary(fs, "/tpl", cfg.MaxFileSize)
	require.NoError(t, err)

	srv, err := NewServer(cfg, svc, lib, zap.NewNop())
	require.NoError(t, err)
	return &testEnv{server: srv, store: s, fs: fs}
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func TestNewServer_Validation(t *testing.T) {
	cfg := config.DefaultConfig()
	lib, err := templates.NewLibrary(afero.NewMemMapFs(), "/tpl", 0)
	require.NoError(t, err)

	_, err = NewServer(cfg, nil, lib, nil)
	assert.Error(t, err)

	env := newTestEnv(t)
	_, err = NewServer(cfg, env.server.service, nil, nil)
	assert.Error(t, err)
}

func TestHandleGenerate(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleGenerate(context.Background(), call(map[string]any{
		"template":        "invoice.docx",
		"target_field_id": "fldPdf",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractTextFromResult(result))

	text := extractTextFromResult(result)
	assert.Contains(t, text, "Generated document_rec42.pdf from invoice.docx")
	assert.Contains(t, text, "Record: tblOrders / rec42")
	assert.Contains(t, text, "Placeholders replaced: 2")
	assert.Contains(t, text, "Unresolved placeholders: Currency")
	assert.Contains(t, text, "Status: verified")
	assert.Contains(t, text, "[warning] 1 placeholder(s) not resolved: Currency")

	files, err := env.store.CellValue(context.Background(), "tblOrders", "fldPdf", "rec42")
	require.NoError(t, err)
	assert.Len(t, persist.ParseAttachments(files), 1)
}

func TestHandleGenerate_IncludePDF(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleGenerate(context.Background(), call(map[string]any{
		"template":    "invoice.docx",
		"include_pdf": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractTextFromResult(result), "Saved locally: /out/document_rec42.pdf")

	blob := extractBlobFromResult(result)
	require.NotNil(t, blob)
	assert.Equal(t, store.PDFMimeType, blob.MIMEType)
	assert.True(t, strings.HasSuffix(blob.URI, "/document_rec42.pdf"))
	pdf, err := base64.StdEncoding.DecodeString(blob.Blob)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
}

func TestHandleGenerate_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "missing template argument", args: map[string]any{}, want: "template"},
		{name: "template outside directory", args: map[string]any{"template": "../etc/passwd.docx"}, want: "outside"},
		{name: "unknown template", args: map[string]any{"template": "nope.docx"}, want: "template not found"},
		{name: "unknown record", args: map[string]any{"template": "invoice.docx", "table_id": "tblOrders", "record_id": "rec0"}, want: "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.server.handleGenerate(context.Background(), call(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractTextFromResult(result), tt.want)
		})
	}
}

func TestHandleInspectTemplate(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleInspectTemplate(context.Background(), call(map[string]any{"template": "invoice.docx"}))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "3 occurrence(s), 3 distinct key(s)")
	assert.Contains(t, text, "1. {{customer_name}} x1\n")

	result, err = env.server.handleInspectTemplate(context.Background(), call(map[string]any{
		"template": "invoice.docx",
		"resolve":  true,
	}))
	require.NoError(t, err)
	text = extractTextFromResult(result)
	assert.Contains(t, text, "unresolved occurrences: 1")
	assert.Contains(t, text, `{{customer_name}} x1 -> "Globex"`)
	assert.Contains(t, text, `{{Total}} x1 -> "1250.5"`)
	assert.Contains(t, text, "{{Currency}} x1 -> unresolved")

	result, err = env.server.handleInspectTemplate(context.Background(), call(map[string]any{"template": "empty.docx"}))
	require.NoError(t, err)
	assert.Contains(t, extractTextFromResult(result), "No {{placeholder}} keys found")
}

func TestHandlePreviewRecord(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handlePreviewRecord(context.Background(), call(nil))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "Record map (3 fields)")
	assert.Contains(t, text, `"Customer Name": "Globex"`)
}

func TestHandleListFields(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleListFields(context.Background(), call(nil))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "Table: tblOrders")
	assert.Contains(t, text, "Fields (3)")
	assert.Contains(t, text, "• Invoice PDF (id: fldPdf)")

	result, err = env.server.handleListFields(context.Background(), call(map[string]any{"table_id": "tblMissing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListTemplates(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleListTemplates(context.Background(), call(nil))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "Found 2 template(s)")
	assert.Contains(t, text, "1. empty.docx")
	assert.Contains(t, text, "2. invoice.docx")

	result, err = env.server.handleListTemplates(context.Background(), call(map[string]any{"query": "lease"}))
	require.NoError(t, err)
	assert.Contains(t, extractTextFromResult(result), "No templates found in directory: /tpl (searched for: lease)")
}

func TestHandleServerInfo(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleServerInfo(context.Background(), call(nil))
	require.NoError(t, err)
	text := extractTextFromResult(result)
	assert.Contains(t, text, "docfill-test v1.0.0")
	assert.Contains(t, text, "Template Directory: /tpl")
	assert.Contains(t, text, "• docfill_generate:")
	assert.Contains(t, text, "{{Field Name}}")
}

// Helper function to extract text from a CallToolResult
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}

func extractBlobFromResult(result *mcp.CallToolResult) *mcp.BlobResourceContents {
	for _, content := range result.Content {
		var res mcp.ResourceContents
		switch c := content.(type) {
		case mcp.EmbeddedResource:
			res = c.Resource
		case *mcp.EmbeddedResource:
			res = c.Resource
		default:
			continue
		}
		switch b := res.(type) {
		case mcp.BlobResourceContents:
			return &b
		case *mcp.BlobResourceContents:
			return b
		}
	}
	return nil
}
