// Package authcode turns a channel's raw login challenge into artifacts a
// person can scan: a PNG data URL for browsers and a block-character
// rendering for terminals.
package authcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrRender is returned when a payload cannot be encoded.
var ErrRender = errors.New("authcode: render failed")

// DefaultImageSize is the edge length in pixels of the PNG artifact.
const DefaultImageSize = 256

// Artifact is a rendered login challenge.
type Artifact struct {
	Payload  string `json:"-"`
	ImageURL string `json:"image"` // data:image/png;base64,...
	Terminal string `json:"terminal"`
}

// Renderer converts a raw payload into an Artifact.
type Renderer interface {
	Render(payload string) (Artifact, error)
}

// QRRenderer renders payloads as QR codes.
type QRRenderer struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewQRRenderer returns a renderer with medium error correction.
func NewQRRenderer() *QRRenderer {
	return &QRRenderer{Size: DefaultImageSize, Level: qrcode.Medium}
}

// Render encodes payload. The result depends only on the payload and the
// renderer settings, so rendering the same payload twice yields equal artifacts.
func (r *QRRenderer) Render(payload string) (Artifact, error) {
	if strings.TrimSpace(payload) == "" {
		return Artifact{}, fmt.Errorf("%w: empty payload", ErrRender)
	}
	size := r.Size
	if size <= 0 {
		size = DefaultImageSize
	}

	q, err := qrcode.New(payload, r.Level)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrRender, err)
	}
	png, err := q.PNG(size)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: encode png: %v", ErrRender, err)
	}

	return Artifact{
		Payload:  payload,
		ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		Terminal: q.ToSmallString(false),
	}, nil
}
