package fhir

import (
	"context"

	"github.com/ValerySidorin/bulkfetch/pkg/ndjson"
	"github.com/pkg/errors"
)

// ValidateResources fails the stream on the first record without a
// resourceType, or without an id unless it is a Bundle.
func ValidateResources(src ndjson.RecordReader) ndjson.RecordReader {
	return &validator{src: src}
}

type validator struct {
	src ndjson.RecordReader
	num int
}

func (v *validator) Read(ctx context.Context) (any, error) {
	record, err := v.src.Read(ctx)
	if err != nil {
		return nil, err
	}
	v.num++

	resource, _ := record.(map[string]any)
	resourceType, _ := resource["resourceType"].(string)
	if resourceType == "" {
		return nil, errors.Errorf("no resourceType found for resource number %d", v.num)
	}

	if id, _ := resource["id"].(string); id == "" && resourceType != "Bundle" {
		return nil, errors.Errorf(`no "id" found for resource number %d`, v.num)
	}

	return record, nil
}
