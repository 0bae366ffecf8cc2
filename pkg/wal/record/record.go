package record

import "time"

const (
	PROCESSING = "PROCESSING"
	COMPLETED  = "COMPLETED"
	FAILED     = "FAILED"
	CANCELED   = "CANCELED"
)

// Export is one kicked off export, keyed by its status URL.
type Export struct {
	StatusURL string
	FHIRURL   string
	Status    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// File is the last known outcome of one manifest file of an export.
type File struct {
	StatusURL string
	URL       string
	Name      string
	Status    string
	Bytes     int64
	Error     string
	UpdatedAt time.Time
}

func NewExport(statusURL, fhirURL string, now time.Time) *Export {
	return &Export{
		StatusURL: statusURL,
		FHIRURL:   fhirURL,
		Status:    PROCESSING,
		StartedAt: now,
		UpdatedAt: now,
	}
}
