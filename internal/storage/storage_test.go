package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePrescription(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int64
		wantErr     bool
	}{
		{name: "jpeg", contentType: "image/jpeg", size: 1024},
		{name: "png upper case", contentType: "IMAGE/PNG", size: 1024},
		{name: "pdf at limit", contentType: "application/pdf", size: MaxPrescriptionSize},
		{name: "too large", contentType: "application/pdf", size: MaxPrescriptionSize + 1, wantErr: true},
		{name: "empty", contentType: "image/png", size: 0, wantErr: true},
		{name: "gif rejected", contentType: "image/gif", size: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrescription(tt.contentType, tt.size)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPrescriptionKey(t *testing.T) {
	key := PrescriptionKey("../../etc/ma ordonnance.pdf")
	assert.True(t, strings.HasPrefix(key, "prescriptions/"))
	assert.True(t, strings.HasSuffix(key, "-ma_ordonnance.pdf"))
	assert.NotContains(t, key, "..")

	assert.NotEqual(t, PrescriptionKey("a.png"), PrescriptionKey("a.png"))
	assert.True(t, strings.HasSuffix(PrescriptionKey(""), "-prescription"))
}
