package analytics

import "time"

// Metadata describes how a result was produced.
type Metadata struct {
	GeneratedAt string  `json:"generatedAt"`
	Filters     Filters `json:"filters"`
}

// Envelope is the response wrapper shared by every analytics endpoint.
type Envelope struct {
	Success  bool      `json:"success"`
	Data     any       `json:"data,omitempty"`
	Error    string    `json:"error,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Succeed wraps data. The generation time is the caller supplied now, so
// identical inputs encode identically.
func Succeed(data any, filters Filters, now time.Time) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Metadata: &Metadata{
			GeneratedAt: now.UTC().Format(time.RFC3339Nano),
			Filters:     filters,
		},
	}
}

// Fail returns an unsuccessful envelope carrying a client-safe message.
func Fail(message string) Envelope {
	return Envelope{Success: false, Error: message}
}
