package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EnvelopeVersion is the current queue message schema version.
const EnvelopeVersion = 1

// UploadEvent describes a newly created raw object awaiting extraction.
type UploadEvent struct {
	Bucket      string    `json:"bucket"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Envelope is the JSON body of an ingestion queue message.
type Envelope struct {
	Version     int         `json:"version"`
	Event       UploadEvent `json:"event"`
	PublishedAt time.Time   `json:"published_at"`
}

// NewEnvelope wraps an upload event for publishing.
func NewEnvelope(ev UploadEvent, now time.Time) Envelope {
	return Envelope{Version: EnvelopeVersion, Event: ev, PublishedAt: now.UTC()}
}

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses and validates a queue message body.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.Version != EnvelopeVersion {
		return Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, e.Version)
	}
	if strings.TrimSpace(e.Event.Bucket) == "" || strings.TrimSpace(e.Event.ObjectKey) == "" {
		return Envelope{}, fmt.Errorf("%w: bucket and object key are required", ErrMalformedEnvelope)
	}
	return e, nil
}

// ObjectRef addresses an object in the object store.
type ObjectRef struct {
	Bucket string
	Key    string
}

func (r ObjectRef) String() string { return r.Bucket + "/" + r.Key }
