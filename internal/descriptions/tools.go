package descriptions

import "sort"

// Tool descriptions with practical examples and use cases

const (
	PDFFillFormDescription = `Fill a PDF prior authorization form from a patient referral package.

**When to use:** A referral PDF holds the patient's details and a blank fillable form needs them transcribed.

**Why it's useful:** Extracts the patient details once, then works through the form page by page: every field is given the question it asks and its context, and only fields the referral actually answers are filled. Fields without supporting data stay blank instead of receiving guesses.

**Examples:**
• Prior authorization: "Fill pa-form.pdf from referral-jane-doe.pdf"
• Review run: "Fill intake.pdf from referral.pdf and write a report to intake-report.xlsx"

**Common workflows:**
1. Inspect: pdf_form_fields → check the form has fillable fields
2. Fill: pdf_fill_form → review filled values and failed pages
3. Audit: open the xlsx report → check question, context and value per field

**Best practices:** Validate both files first. Pages that fail are listed in the result and leave their fields untouched; rerun to retry them.`

	PDFFormFieldsDescription = `List the fillable fields of a PDF form with their page, type, position and current value.

**When to use:** Before filling a form, or to check what a filled form now contains.

**Why it's useful:** Shows exactly which text fields and checkboxes the filler can reach. Radio groups, push buttons and signature fields are not listed because they are never filled.

**Examples:**
• Form discovery: "What fields does pa-form.pdf have?"
• Verification: "Show the values of pa-form_filled.pdf"

**Best practices:** Field ids are fully qualified names (parent.child) and are unique within the document.`

	PDFIsolatePageDescription = `Cut one page out of a PDF into its own single-page document.

**When to use:** To look at exactly what the filler sends for one page of a form.

**Why it's useful:** Copies the page with its form widgets removed. Pages whose structure cannot be copied are rasterized into an image-only page instead, and the result says so.

**Examples:**
• Debug a page: "Isolate page 3 of pa-form.pdf to page3.pdf"

**Best practices:** Page numbers start at 1.`

	PDFValidateFileDescription = `Verify PDF file integrity and readability before processing.

**When to use:** Before filling, especially for user uploads or files from other systems.

**Why it's useful:** Catches missing, empty, oversized and corrupted files early. Reports the page count and the number of fillable fields.

**Examples:**
• Upload verification: "Check referral.pdf is valid before filling"

**Best practices:** Always run this first in automated workflows.`

	PDFServerInfoDescription = `Get server configuration, available tools and the PDF files in the working directory.

**When to use:** At the start of a session to learn what the server can do and which files it can see.

**Why it's useful:** Shows the oracle provider and models in use, whether an API key is configured, the size limit and the directory listing.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"pdf_fill_form":     PDFFillFormDescription,
	"pdf_form_fields":   PDFFormFieldsDescription,
	"pdf_isolate_page":  PDFIsolatePageDescription,
	"pdf_validate_file": PDFValidateFileDescription,
	"pdf_server_info":   PDFServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the names of all tools, sorted
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
