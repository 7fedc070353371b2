package model

import "errors"

// Failure classes of the feed engine. None of them reach the caller of the
// feed session; they classify what was logged and dropped.
var (
	ErrSourceUnavailable = errors.New("candidate source unavailable")
	ErrDocumentMissing   = errors.New("document missing")
	ErrDocumentInactive  = errors.New("document inactive")
	ErrDocumentPrivate   = errors.New("document private")
	ErrDecode            = errors.New("decode persisted value")
)
