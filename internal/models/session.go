package models

import "time"

// Session scopes the outputs of one processing request. Every artifact lives
// under the session's workspace directory and shares its expiry.
type Session struct {
	ID        string    `json:"session_id"`
	Dir       string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Artifact is a single produced output (file or archive) owned by exactly one
// session. LogicalName is the client-facing filename; StoredPath is the
// session-qualified location on disk and is never exposed to clients.
type Artifact struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	LogicalName string    `json:"file_name"`
	StoredPath  string    `json:"-"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}
