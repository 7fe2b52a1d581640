package descriptions

// Tool descriptions shown to MCP clients

const (
	GenerateDescription = `Fill a Word (.docx) template with one record and attach the resulting PDF to the record.

**When to use:** A record in the host table needs a generated document (contract, invoice, certificate) saved into one of its attachment fields.

**How it works:** Every {{placeholder}} in the template is replaced with the record's value for the field of that name. Names match case-insensitively and ignore spaces and punctuation, so {{ Customer Name }} matches the field "customer_name". The filled document is rendered to A4 pages, uploaded, appended to the attachment field and read back to confirm it landed.

**Examples:**
• "Generate contract.docx for the selected record into the Contracts field"
• "Fill invoice.docx with record rec42 of table tblOrders, attach to field fldPdf"

**Common workflows:**
1. docfill_list_fields → pick the attachment field → docfill_generate
2. docfill_inspect_template → docfill_preview_record → fix field names → docfill_generate

**Notes:** Leave target_field_id empty to only save the PDF to the output directory. A result status of "unverified" means the host accepted the write but the read-back did not show the file; a local copy is saved in that case.`

	InspectTemplateDescription = `List the placeholder keys used by a .docx template.

**When to use:** Before generating, to see which fields a template expects, or to check which keys a record would leave unresolved.

**Examples:**
• "Which placeholders does lease.docx use?"
• "Check whether the selected record resolves every key in invoice.docx"

**Notes:** With resolve=true each key is resolved against a record (the selected one unless table_id and record_id are given) and unresolved keys are counted.`

	PreviewRecordDescription = `Show the record map a generation would use: every field name with its normalized display value.

**When to use:** To debug why a placeholder renders empty or in an unexpected format. Timestamps, user lists and structured values are shown exactly as they will appear in the document.

**Examples:**
• "Preview the selected record"
• "What values does record rec42 of tblOrders produce?"`

	ListFieldsDescription = `List the fields of a table, including which ones accept attachments.

**When to use:** To find the target_field_id for docfill_generate, or the exact field names to use as placeholders.

**Examples:**
• "Which attachment fields does the selected table have?"`

	ListTemplatesDescription = `List the .docx templates available in the template directory, optionally filtered by a name fragment.

**Examples:**
• "Which templates are available?"
• "Find templates with 'lease' in the name"`

	ServerInfoDescription = `Get server information: configured directories, renderer, store backend and the available tools.`
)

// ToolUsage is a compact usage line per tool for the server info output
var ToolUsage = map[string]string{
	"docfill_generate":         "template (name in template directory), table_id?, record_id?, target_field_id?, include_pdf?",
	"docfill_inspect_template": "template, resolve?, table_id?, record_id?",
	"docfill_preview_record":   "table_id?, record_id?",
	"docfill_list_fields":      "table_id?",
	"docfill_list_templates":   "query?",
	"docfill_server_info":      "(none)",
}

// UsageGuidance closes the server info output
const UsageGuidance = `Start with docfill_list_templates and docfill_list_fields. Placeholders are written as {{Field Name}} in the template; ` +
	`keys that match no field are left in the document verbatim and reported as unresolved.`
