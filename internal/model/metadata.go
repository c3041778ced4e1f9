package model

// SessionMetadata is the client snapshot captured on session start. It
// travels through the staging tier as JSON and is copied onto the durable
// row at promotion time.
type SessionMetadata struct {
	UserID         *string `json:"user_id,omitempty"`
	UserEmail      *string `json:"user_email,omitempty"`
	PageURL        *string `json:"page_url,omitempty"`
	Referrer       *string `json:"referrer,omitempty"`
	UserAgent      *string `json:"user_agent,omitempty"`
	ScreenWidth    *int32  `json:"screen_width,omitempty"`
	ScreenHeight   *int32  `json:"screen_height,omitempty"`
	ViewportWidth  *int32  `json:"viewport_width,omitempty"`
	ViewportHeight *int32  `json:"viewport_height,omitempty"`

	// Client-declared session start in unix milliseconds. Zero means the
	// client never sent one; such sessions are not promotable.
	StartTimestampMS int64 `json:"start_timestamp_ms,omitempty"`
}

// Apply copies the snapshot onto a session row.
func (m SessionMetadata) Apply(sess *Session) {
	sess.UserID = m.UserID
	sess.UserEmail = m.UserEmail
	sess.PageURL = m.PageURL
	sess.Referrer = m.Referrer
	sess.UserAgent = m.UserAgent
	sess.ScreenWidth = m.ScreenWidth
	sess.ScreenHeight = m.ScreenHeight
	sess.ViewportWidth = m.ViewportWidth
	sess.ViewportHeight = m.ViewportHeight
}
