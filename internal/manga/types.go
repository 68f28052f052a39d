// Package manga defines the core types shared across the scraping pipeline.
package manga

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Chapter identifies one chapter of a manga. Two chapters are equal when both
// fields are equal as strings.
type Chapter struct {
	Volume string `json:"volume"`
	Number string `json:"number"`
}

// String renders the chapter as "v<volume> c<number>" for logs and errors.
func (c Chapter) String() string {
	return fmt.Sprintf("v%s c%s", c.Volume, c.Number)
}

// FlexString decodes a JSON string or number into its string form. Upstream
// payloads mix both for chapter and volume identifiers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*f = FlexString(s)
		return nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decode number: %w", err)
		}
		*f = FlexString(n.String())
		return nil
	default:
		return fmt.Errorf("expected a number or string, got %s", data)
	}
}

// JobRequest is the payload carried by a queue delivery or an HTTP body.
type JobRequest struct {
	Slug         string  `json:"slug"`
	CallbackURL  string  `json:"callback_url"`
	AfterChapter *string `json:"after_chapter"`
	AfterVolume  *string `json:"after_volume"`
}

// DecodeJobRequest parses one JSON job request. The body must be valid UTF-8
// holding exactly one JSON object with a non-empty slug. Failures are
// KindDecode JobErrors.
func DecodeJobRequest(body []byte) (JobRequest, error) {
	if !utf8.Valid(body) {
		return JobRequest{}, &JobError{Kind: KindDecode, Err: errors.New("body is not valid UTF-8")}
	}
	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return JobRequest{}, &JobError{Kind: KindDecode, Err: fmt.Errorf("unmarshal job request: %w", err)}
	}
	if req.Slug == "" {
		return JobRequest{}, &JobError{Kind: KindDecode, Err: errors.New("slug is required")}
	}
	return req, nil
}

// Cursor returns the resume cursor, or nil unless both fields are present.
func (r JobRequest) Cursor() *Cursor {
	if r.AfterChapter == nil || r.AfterVolume == nil {
		return nil
	}
	return &Cursor{Chapter: *r.AfterChapter, Volume: *r.AfterVolume}
}

// Cursor marks the last chapter the caller already received.
type Cursor struct {
	Chapter string
	Volume  string
}

// JobResult is the body POSTed to the callback URL.
type JobResult struct {
	Slug     string             `json:"slug"`
	Chapters []PublishedChapter `json:"chapters"`
}

// PublishedChapter is one chapter entry of a JobResult. URL is reserved for a
// publish-link step and stays nil in the scraping pipeline.
type PublishedChapter struct {
	URL        *string  `json:"url"`
	Chapter    string   `json:"chapter"`
	Volume     string   `json:"volume"`
	ImagesURLs []string `json:"images_urls"`
}

// JobStatus is the terminal state of a processed job.
type JobStatus string

// Terminal job states recorded by the audit log and outcome events.
const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)
