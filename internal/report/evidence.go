package report

import "fmt"

// NoEvidence is recorded when no evidence source is present.
const NoEvidence = "No evidence provided"

// FileHandle identifies an image file without carrying its bytes.
type FileHandle struct {
	Name        string
	ContentType string
	Size        int64
}

// EvidenceKind tags the active EvidenceSource variant.
type EvidenceKind int

const (
	EvidenceNone EvidenceKind = iota
	EvidenceURL
	EvidenceSelectedFile
	EvidencePastedImage
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidencePastedImage:
		return "pasted_image"
	case EvidenceSelectedFile:
		return "selected_file"
	case EvidenceURL:
		return "url"
	default:
		return "none"
	}
}

// EvidenceSource is the one evidence variant chosen for a submission.
// File is set for the image variants, URL for EvidenceURL.
type EvidenceSource struct {
	Kind EvidenceKind
	File FileHandle
	URL  string
}

// SelectEvidence picks the highest-priority source present:
// pasted image, then selected file, then URL text, then none.
// Nil handles and an empty URL count as absent.
func SelectEvidence(pasted, selected *FileHandle, url string) EvidenceSource {
	switch {
	case pasted != nil:
		return EvidenceSource{Kind: EvidencePastedImage, File: *pasted}
	case selected != nil:
		return EvidenceSource{Kind: EvidenceSelectedFile, File: *selected}
	case url != "":
		return EvidenceSource{Kind: EvidenceURL, URL: url}
	default:
		return EvidenceSource{Kind: EvidenceNone}
	}
}

// Describe reduces the source to the string stored in the evidence column.
// Only file names are recorded, never file contents.
func (e EvidenceSource) Describe() string {
	switch e.Kind {
	case EvidencePastedImage:
		return fmt.Sprintf("Pasted Screenshot: %s", e.File.Name)
	case EvidenceSelectedFile:
		return fmt.Sprintf("Screenshot: %s", e.File.Name)
	case EvidenceURL:
		return fmt.Sprintf("URL: %s", e.URL)
	default:
		return NoEvidence
	}
}
