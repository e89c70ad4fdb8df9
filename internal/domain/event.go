package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSourceFailed marks extract errors that retrying cannot fix. The pipeline
// stops and returns them.
var ErrSourceFailed = errors.New("source failed")

// RawEvent represents an unprocessed message from the source topic or a
// discovered scene file.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// SceneRequest asks for one scene to be assessed. Scene is a local path or an
// s3://bucket/key URI.
type SceneRequest struct {
	Scene     string `json:"scene"`
	Variant   string `json:"variant,omitempty"`
	Region    string `json:"region,omitempty"`
	Date      string `json:"date,omitempty"`
	NightOnly *bool  `json:"night_only,omitempty"`
}

// OutputEvent is the serialized form destined for the sink.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	// Report is the decoded value, kept for sinks that store fields rather
	// than bytes.
	Report *Report
}
