package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"1.Patient.ndjson", "application/fhir+ndjson"},
		{"attachments/abc.pdf", "application/pdf"},
		{"attachments/abc.jpeg", "image/jpeg"},
		{"attachments/abc.txt", "text/plain"},
		{"attachments/abc.bin", "application/octet-stream"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, contentType(tt.name), tt.name)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{Bucket: "b"}).Validate())
	assert.Error(t, (&Config{Endpoint: "localhost:9000"}).Validate())
	assert.NoError(t, (&Config{Endpoint: "localhost:9000", Bucket: "b"}).Validate())
}
