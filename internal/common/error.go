package common

import "fmt"

var (
	ErrSourceNotFound      = fmt.Errorf("source directory not found")
	ErrNoMetadataFile      = fmt.Errorf("metadata file not found")
	ErrMissingMetadataKey  = fmt.Errorf("required metadata key missing or empty")
	ErrNoTransportEndpoint = fmt.Errorf("transport endpoint is not configured")
)
