package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-docfill/internal/docfill/docx/docxtest"
)

const testFixture = `selection:
  table: tblOrders
  record: rec1
tables:
  - id: tblOrders
    name: Orders
    fields:
      - {id: fldCustomer, name: Customer, type: 1}
      - {id: fldDue, name: Due Date, type: 5}
      - {id: fldPdf, name: Invoice, type: 17}
    records:
      - id: rec1
        cells:
          fldCustomer: Initech
          fldDue: 946684800000
`

type workspace struct {
	dir     string
	fixture string
	output  string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:     dir,
		fixture: filepath.Join(dir, "fixture.yaml"),
		output:  filepath.Join(dir, "out"),
	}
	require.NoError(t, os.WriteFile(ws.fixture, []byte(testFixture), 0o600))
	tpl := docxtest.Build(docxtest.Paragraph("Bill to {{Customer}}, due {{due date}}"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "invoice.docx"), tpl, 0o600))
	return ws
}

func (ws *workspace) args(extra ...string) []string {
	return append(extra,
		"--envfile", filepath.Join(ws.dir, "missing.env"),
		"--templatedir", ws.dir,
		"--outputdir", ws.output,
		"--timezone", "UTC",
		"--verifydelay", "1ms",
		"--loglevel", "error",
	)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPrintVersion(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version, buildTime, gitCommit = "1.2.3", "2023-12-01_10:30:00", "abc123"
	defer func() { version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit }()

	out, err := run(t, "version")
	require.NoError(t, err)
	for _, want := range []string{
		"MCP Docfill",
		"Version: 1.2.3",
		"Build Time: 2023-12-01_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "generate", "inspect", "preview", "fields", "import", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("store"))
	assert.NotNil(t, root.PersistentFlags().Lookup("renderer"))
}

func TestGenerate_AttachesToField(t *testing.T) {
	ws := newWorkspace(t)
	pdfCopy := filepath.Join(ws.dir, "copy.pdf")

	out, err := run(t, ws.args("generate", "invoice.docx",
		"--storepath", ws.fixture,
		"--field", "fldPdf",
		"--out", pdfCopy)...)
	require.NoError(t, err)

	var result struct {
		RecordID string            `json:"recordId"`
		Replaced int               `json:"replaced"`
		Pages    int               `json:"pages"`
		Record   map[string]string `json:"record"`
		Persist  struct {
			Status string `json:"status"`
			Token  string `json:"token"`
		} `json:"persist"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "rec1", result.RecordID)
	assert.Equal(t, 2, result.Replaced)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, "2000/1/1 00:00:00", result.Record["Due Date"])
	assert.Equal(t, "verified", result.Persist.Status)
	assert.NotEmpty(t, result.Persist.Token)

	data, err := os.ReadFile(pdfCopy)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestGenerate_WithoutFieldSavesLocally(t *testing.T) {
	ws := newWorkspace(t)

	out, err := run(t, ws.args("generate", "invoice.docx", "--storepath", ws.fixture, "--fileprefix", "invoice")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "no_target"`)

	_, err = os.Stat(filepath.Join(ws.output, "invoice_rec1.pdf"))
	assert.NoError(t, err)
}

func TestGenerate_Errors(t *testing.T) {
	ws := newWorkspace(t)

	_, err := run(t, ws.args("generate", "../invoice.docx", "--storepath", ws.fixture)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")

	_, err = run(t, ws.args("generate", "invoice.docx", "--storepath", ws.fixture, "--renderer", "gpu")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid renderer")

	_, err = run(t, ws.args("generate", "invoice.docx", "--storepath", ws.fixture, "--record", "rec9", "--table", "tblOrders")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestInspectAndPreview(t *testing.T) {
	ws := newWorkspace(t)

	out, err := run(t, ws.args("inspect", "invoice.docx", "--resolve", "--storepath", ws.fixture)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "Customer"`)
	assert.Contains(t, out, `"value": "Initech"`)
	assert.NotContains(t, out, `"unresolved"`)

	out, err = run(t, ws.args("preview", "--storepath", ws.fixture)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"Due Date": "2000/1/1 00:00:00"`)
}

func TestImportIntoSQLiteThenListFields(t *testing.T) {
	ws := newWorkspace(t)
	db := filepath.Join(ws.dir, "docfill.db")

	out, err := run(t, ws.args("import", ws.fixture, "--store", "sqlite", "--storepath", db)...)
	require.NoError(t, err)
	assert.Equal(t, "imported 1 table(s), 1 record(s) into "+db+"\n", out)

	out, err = run(t, ws.args("fields", "--store", "sqlite", "--storepath", db)...)
	require.NoError(t, err)
	var list struct {
		TableID     string `json:"tableId"`
		Attachments []struct {
			ID string `json:"id"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, "tblOrders", list.TableID)
	require.Len(t, list.Attachments, 1)
	assert.Equal(t, "fldPdf", list.Attachments[0].ID)

	_, err = run(t, ws.args("import", ws.fixture, "--storepath", ws.fixture)...)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sqlite"))
}
