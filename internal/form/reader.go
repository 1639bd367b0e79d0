package form

import "github.com/kalambet/errsheet/internal/report"

// Read extracts the field values and the evidence source from b.
// pasted is the handle held by the pasted-image slot, or nil.
// It has no side effects on b.
func Read(b Binding, pasted *report.FileHandle) (report.FormValues, report.EvidenceSource) {
	values := report.FormValues{
		Title:       b.ErrorTitle(),
		ErrorType:   b.ErrorType(),
		Description: b.Description(),
	}

	var selected *report.FileHandle
	if h, ok := b.Screenshot(); ok {
		selected = &h
	}

	return values, report.SelectEvidence(pasted, selected, b.EvidenceURL())
}
