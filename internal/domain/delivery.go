package domain

import "time"

// DeliveryStatus is the transport-reported state of an outbound message.
// Values outside the named constants are stored verbatim.
type DeliveryStatus string

const (
	StatusSent        DeliveryStatus = "sent"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusRead        DeliveryStatus = "read"
	StatusFailed      DeliveryStatus = "failed"
	StatusUndelivered DeliveryStatus = "undelivered"
)

// Failed reports whether the status marks a terminal delivery failure.
func (s DeliveryStatus) Failed() bool {
	return s == StatusFailed || s == StatusUndelivered
}

// DeliveryRecord is the tracked state of one outbound send.
type DeliveryRecord struct {
	ID           string         `json:"messageSid"`
	Recipient    string         `json:"recipient"`
	Status       DeliveryStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"lastUpdated"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Chunk        int            `json:"chunk"`
	TotalChunks  int            `json:"totalChunks"`
}

// DeliveryStats aggregates delivery records by status. Total always equals
// the sum of the per-status counters.
type DeliveryStats struct {
	Total       int `json:"total"`
	Sent        int `json:"sent"`
	Delivered   int `json:"delivered"`
	Read        int `json:"read"`
	Failed      int `json:"failed"`
	Undelivered int `json:"undelivered"`
	Other       int `json:"other"`
}

// Add counts one record with the given status.
func (s *DeliveryStats) Add(status DeliveryStatus) {
	s.Total++
	switch status {
	case StatusSent:
		s.Sent++
	case StatusDelivered:
		s.Delivered++
	case StatusRead:
		s.Read++
	case StatusFailed:
		s.Failed++
	case StatusUndelivered:
		s.Undelivered++
	default:
		s.Other++
	}
}
