package session

import (
	"context"
	"fmt"
	"sync"
)

// FakeChannel implements Channel for tests. It records every call and lets
// tests raise events through Emit.
type FakeChannel struct {
	mu        sync.Mutex
	observe   func(Event)
	inited    bool
	destroyed int
	loggedOut int
	texts     []SentText
	media     []SentMedia
	checked   []string

	// InitFunc, when set, runs inside Initialize (e.g. to emit events or block).
	InitFunc func(ctx context.Context, f *FakeChannel) error
	// SendErr maps destination address to the error SendText should return.
	SendErr map[string]error
	// MediaErr is returned by SendMedia when set.
	MediaErr error
	// Unregistered lists addresses IsRegistered reports as unknown.
	Unregistered map[string]bool
	// LogoutErr and DestroyErr are returned by Logout and Destroy.
	LogoutErr  error
	DestroyErr error
	// OnSend runs after each successful SendText.
	OnSend func(to string)
	// OnLogout runs inside Logout, e.g. to block it.
	OnLogout func()
}

// SentText is one recorded SendText call.
type SentText struct {
	To   string
	Text string
}

// SentMedia is one recorded SendMedia call.
type SentMedia struct {
	To   string
	Path string
}

// FakeFactory hands out FakeChannels and remembers them in creation order.
type FakeFactory struct {
	mu       sync.Mutex
	channels []*FakeChannel
	// Configure, when set, prepares each new channel before it is returned.
	Configure func(f *FakeChannel)
	// Err makes the factory fail.
	Err error
}

// Factory returns a session.Factory backed by this FakeFactory.
func (ff *FakeFactory) Factory() Factory {
	return func(observe func(Event)) (Channel, error) {
		ff.mu.Lock()
		defer ff.mu.Unlock()
		if ff.Err != nil {
			return nil, ff.Err
		}
		f := &FakeChannel{observe: observe}
		if ff.Configure != nil {
			ff.Configure(f)
		}
		ff.channels = append(ff.channels, f)
		return f, nil
	}
}

// Count returns how many channels have been created.
func (ff *FakeFactory) Count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.channels)
}

// Last returns the most recently created channel, or nil.
func (ff *FakeFactory) Last() *FakeChannel {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.channels) == 0 {
		return nil
	}
	return ff.channels[len(ff.channels)-1]
}

// NewFakeChannel returns a standalone fake that is not attached to a lifecycle.
func NewFakeChannel() *FakeChannel {
	return &FakeChannel{}
}

// Emit delivers ev to the observer registered by the lifecycle.
func (f *FakeChannel) Emit(ev Event) {
	f.mu.Lock()
	observe := f.observe
	f.mu.Unlock()
	if observe != nil {
		observe(ev)
	}
}

func (f *FakeChannel) Initialize(ctx context.Context) error {
	f.mu.Lock()
	f.inited = true
	fn := f.InitFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, f)
	}
	return nil
}

func (f *FakeChannel) SendText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	if err := f.SendErr[to]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.texts = append(f.texts, SentText{To: to, Text: text})
	onSend := f.OnSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(to)
	}
	return nil
}

func (f *FakeChannel) SendMedia(ctx context.Context, to string, m Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MediaErr != nil {
		return f.MediaErr
	}
	f.media = append(f.media, SentMedia{To: to, Path: m.Path})
	return nil
}

func (f *FakeChannel) IsRegistered(ctx context.Context, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, to)
	return !f.Unregistered[to], nil
}

func (f *FakeChannel) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut++
	hook, err := f.OnLogout, f.LogoutErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *FakeChannel) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	if f.DestroyErr != nil {
		return fmt.Errorf("fake destroy: %w", f.DestroyErr)
	}
	return nil
}

// Texts returns a copy of recorded text sends.
func (f *FakeChannel) Texts() []SentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentText(nil), f.texts...)
}

// MediaSent returns a copy of recorded media sends.
func (f *FakeChannel) MediaSent() []SentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMedia(nil), f.media...)
}

// Checked returns addresses passed to IsRegistered.
func (f *FakeChannel) Checked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.checked...)
}

// Destroyed reports how many times Destroy was called.
func (f *FakeChannel) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// LoggedOut reports how many times Logout was called.
func (f *FakeChannel) LoggedOut() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedOut
}

// Initialized reports whether Initialize was called.
func (f *FakeChannel) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inited
}
