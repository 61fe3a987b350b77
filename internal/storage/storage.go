package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxPrescriptionSize is the largest prescription upload accepted
const MaxPrescriptionSize = 5 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// BlobStore stores a document and returns an opaque reference to it
type BlobStore interface {
	Store(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// ValidatePrescription checks the content type and size of an upload
func ValidatePrescription(contentType string, size int64) error {
	if !allowedContentTypes[strings.ToLower(contentType)] {
		return fmt.Errorf("unsupported content type %q: only JPEG, PNG and PDF are accepted", contentType)
	}
	if size <= 0 {
		return fmt.Errorf("empty file")
	}
	if size > MaxPrescriptionSize {
		return fmt.Errorf("file exceeds %d bytes", MaxPrescriptionSize)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// PrescriptionKey builds a unique object key for an uploaded file name
func PrescriptionKey(name string) string {
	base := unsafeChars.ReplaceAllString(path.Base(name), "_")
	if base == "" || base == "." || base == "_" {
		base = "prescription"
	}
	return fmt.Sprintf("prescriptions/%s-%s", uuid.NewString(), base)
}
