package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadRequest is returned for scene requests that cannot be acted on.
var ErrBadRequest = errors.New("bad scene request")

// ParseSceneRequest decodes a RawEvent into a SceneRequest. A value that is
// not JSON is taken as a bare scene path, which is what file sources emit.
func ParseSceneRequest(raw RawEvent) (SceneRequest, error) {
	body := strings.TrimSpace(string(raw.Value))
	if body == "" {
		return SceneRequest{}, fmt.Errorf("%w: empty message", ErrBadRequest)
	}

	var req SceneRequest
	if strings.HasPrefix(body, "{") {
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return SceneRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	} else {
		req.Scene = body
	}

	req.Scene = strings.TrimSpace(req.Scene)
	if req.Scene == "" {
		return SceneRequest{}, fmt.Errorf("%w: missing scene", ErrBadRequest)
	}
	if req.Variant == "" {
		req.Variant = raw.Headers["variant"]
	}
	if req.Date != "" {
		if _, err := time.Parse(time.DateOnly, req.Date); err != nil {
			return SceneRequest{}, fmt.Errorf("%w: date %q: %w", ErrBadRequest, req.Date, err)
		}
	}
	req.Region = strings.ToUpper(strings.TrimSpace(req.Region))
	return req, nil
}

// SerializeReport wraps a report as an OutputEvent keyed by report ID.
func SerializeReport(r Report) (OutputEvent, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal report %s: %w", r.ID, err)
	}
	return OutputEvent{
		Key:   []byte(r.ID),
		Value: value,
		Headers: map[string]string{
			"variant":      string(r.Variant),
			"status":       r.Status,
			"processed_at": r.ProcessedAt.Format(time.RFC3339),
		},
		Report: &r,
	}, nil
}
