package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/iblconvert/alyx2nwb/internal/metadata"
)

// MarkdownExporter writes a readable summary of a document
type MarkdownExporter struct{}

// Export exports a document to Markdown format
func (e *MarkdownExporter) Export(doc *metadata.Document, w io.Writer) error {
	nf := doc.NWBFile
	_, _ = fmt.Fprintf(w, "# Session %s\n\n", doc.EID)

	scalar := func(label, value string) {
		if value != "" {
			_, _ = fmt.Fprintf(w, "**%s:** %s  \n", label, escapeMarkdown(value))
		}
	}
	scalar("Start", nf.SessionStartTime)
	scalar("Lab", nf.Lab)
	scalar("Institution", nf.Institution)
	scalar("Experimenter", strings.Join(nf.Experimenter, ", "))
	if doc.Subject != nil {
		scalar("Subject", doc.Subject.SubjectID)
	}
	_, _ = fmt.Fprintf(w, "**Probes:** %d  \n", len(doc.Probes))
	_, _ = fmt.Fprintf(w, "**Fields:** %d\n\n", doc.FieldCount())

	if nf.SessionDescription != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", escapeMarkdown(nf.SessionDescription))
	}

	if len(doc.Probes) > 0 {
		_, _ = fmt.Fprintf(w, "## Probes\n\n")
		for _, p := range doc.Probes {
			_, _ = fmt.Fprintf(w, "- **%s** %s\n", p.Name, escapeMarkdown(p.Description))
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	for _, sec := range Sections(doc) {
		_, _ = fmt.Fprintf(w, "---\n\n## %s\n\n", sec.Name)
		_, _ = fmt.Fprintf(w, "| name | data | timestamps | description |\n|---|---|---|---|\n")
		for _, f := range sec.Fields {
			_, _ = fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
				cell(f.Name), code(sourceLabel(f.Data)), code(sourceLabel(f.Timestamps)), cell(f.Description))
		}
		_, _ = fmt.Fprintf(w, "\n")
	}

	return nil
}

func code(s string) string {
	if s == "" {
		return ""
	}
	return "`" + s + "`"
}

// cell keeps a value on one table row
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(escapeMarkdown(s), "|", "\\|")
}

// escapeMarkdown escapes emphasis markers in free text
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "\\*\\*")
	return strings.ReplaceAll(text, "__", "\\_\\_")
}

// Extension returns the file extension for this format
func (e *MarkdownExporter) Extension() string {
	return "md"
}
