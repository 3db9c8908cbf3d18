package protocol

import (
	"fmt"
	"strings"
)

// Body section names. The body is markdown; sections are level-two headings.
const (
	SectionWhat            = "What"
	SectionProposedChange  = "Proposed Change"
	SectionWhy             = "Why"
	SectionImpact          = "Impact"
	SectionRejectionReason = "Rejection Reason"
	SectionResult          = "Result"
)

// RequiredSections are the sections every request body must carry.
var RequiredSections = []string{
	SectionWhat,
	SectionProposedChange,
	SectionWhy,
	SectionImpact,
}

// Section extracts the text of a named body section, trimmed of surrounding
// whitespace. Returns "" if the section is absent.
func (r *Request) Section(name string) string {
	heading := "## " + name
	lines := strings.Split(r.Body, "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == heading {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "## ") {
			end = i
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// HasSection reports whether the body contains a non-empty named section.
func (r *Request) HasSection(name string) bool {
	return r.Section(name) != ""
}

// AppendSection adds a named section with the given text to the end of the
// body. If the section already exists the text is appended inside it instead
// of creating a duplicate heading.
func (r *Request) AppendSection(name, text string) {
	if r.HasSection(name) {
		heading := "## " + name
		lines := strings.Split(r.Body, "\n")

		start := -1
		for i, line := range lines {
			if strings.TrimSpace(line) == heading {
				start = i + 1
				break
			}
		}
		end := len(lines)
		for i := start; i < len(lines); i++ {
			if strings.HasPrefix(strings.TrimSpace(lines[i]), "## ") {
				end = i
				break
			}
		}

		inserted := append([]string{}, lines[:end]...)
		for len(inserted) > 0 && strings.TrimSpace(inserted[len(inserted)-1]) == "" {
			inserted = inserted[:len(inserted)-1]
		}
		inserted = append(inserted, "", strings.TrimSpace(text))
		if end < len(lines) {
			inserted = append(inserted, "")
			inserted = append(inserted, lines[end:]...)
		} else {
			inserted = append(inserted, "")
		}
		r.Body = strings.Join(inserted, "\n")
		return
	}

	body := strings.TrimRight(r.Body, "\n")
	if body != "" {
		body += "\n\n"
	}
	r.Body = body + fmt.Sprintf("## %s\n\n%s\n", name, strings.TrimSpace(text))
}

// ValidateBody checks that all required sections are present and non-empty.
// Called when a record is first created, not on every read - historical
// records from older layouts may predate a section.
func (r *Request) ValidateBody() error {
	for _, name := range RequiredSections {
		if !r.HasSection(name) {
			return fmt.Errorf("body is missing required section %q", name)
		}
	}
	return nil
}
