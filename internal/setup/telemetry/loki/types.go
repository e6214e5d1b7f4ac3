package loki

// logEntry is the internal representation of one log record queued for
// shipping.
type logEntry struct {
	Level     string         `json:"level"`
	Timestamp float64        `json:"timestamp"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller,omitempty"`
	Stack     string         `json:"stack,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`

	// raw is the encoded form sent as the stream value.
	raw string
}

// streamValue is a [timestamp, line] pair in the Loki push format.
type streamValue [2]string

// stream is a label set with its values.
type stream struct {
	Stream map[string]string `json:"stream"`
	Values []streamValue     `json:"values"`
}

// pushRequest is the body of a Loki push call.
type pushRequest struct {
	Streams []stream `json:"streams"`
}
