// Package session owns the single chat-automation connection: it drives the
// channel through initialization, the scan-to-authenticate handshake,
// readiness, and teardown, and retries a bounded number of times when the
// channel fails or drops.
package session

import "context"

// Channel is one live handle to the chat-automation transport.
//
// Initialize starts the connection; ctx bounds the call only, the handle
// lives until Destroy. Events are delivered asynchronously to the observer
// given to the Factory and may arrive before Initialize returns. Observers may
// call Destroy from inside an event callback, so Destroy must not wait for
// event delivery to finish.
type Channel interface {
	Initialize(ctx context.Context) error
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, media Media) error
	IsRegistered(ctx context.Context, to string) (bool, error)
	Logout(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Media is one attachment read from local storage.
type Media struct {
	Path     string
	Filename string
	MimeType string
	Data     []byte
}

// Factory acquires a fresh Channel whose events go to observe.
type Factory func(observe func(Event)) (Channel, error)
