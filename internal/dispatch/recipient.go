package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

// ChatSuffix is appended to a normalized number to form a chat address.
const ChatSuffix = "@c.us"

// MinLocalDigits is the shortest local number accepted for dispatch.
const MinLocalDigits = 10

var (
	errInvalidDestination = errors.New("local number must have at least 10 digits")
	errMissingFields      = errors.New("no message text and no product fields to build one from")
)

// optOutLine matches a payload line that asks not to be messaged.
var optOutLine = regexp.MustCompile(`(?i)^\s*send\s+message\s*:\s*n\s*$`)

// Recipient is one message target.
type Recipient struct {
	CountryCode string  `json:"country_code"`
	Number      string  `json:"number"`
	Name        string  `json:"name,omitempty"`
	Message     string  `json:"message,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	MinQuantity float64 `json:"minQuantity,omitempty"`
}

// UnmarshalJSON accepts both country_code and countryCode, and numbers given
// either as JSON strings or JSON numbers, since spreadsheet exports mix them.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var raw struct {
		CountryCode  flexString `json:"country_code"`
		CountryCodeC flexString `json:"countryCode"`
		Number       flexString `json:"number"`
		Name         string     `json:"name"`
		Message      string     `json:"message"`
		Category     string     `json:"category"`
		Price        float64    `json:"price"`
		MinQuantity  float64    `json:"minQuantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cc := string(raw.CountryCode)
	if cc == "" {
		cc = string(raw.CountryCodeC)
	}
	*r = Recipient{
		CountryCode: cc,
		Number:      string(raw.Number),
		Name:        raw.Name,
		Message:     raw.Message,
		Category:    raw.Category,
		Price:       raw.Price,
		MinQuantity: raw.MinQuantity,
	}
	return nil
}

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// OptedOut reports whether payload carries a "send message: n" line.
func OptedOut(payload string) bool {
	for _, line := range strings.Split(payload, "\n") {
		if optOutLine.MatchString(line) {
			return true
		}
	}
	return false
}

// Address normalizes a country code and local number into a chat address.
// Non-digits are dropped from both parts.
func Address(countryCode, number string) (string, error) {
	num := digits(number)
	if len(num) < MinLocalDigits {
		return "", errInvalidDestination
	}
	return digits(countryCode) + num + ChatSuffix, nil
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RenderTemplate fills {name}, {category}, {price} and {minQuantity} in tmpl.
func RenderTemplate(tmpl string, r Recipient) string {
	return strings.NewReplacer(
		"{name}", r.Name,
		"{category}", r.Category,
		"{price}", humanize.Commaf(r.Price),
		"{minQuantity}", humanize.Commaf(r.MinQuantity),
	).Replace(tmpl)
}

// ProductMessage is the default announcement for a product recipient.
func ProductMessage(r Recipient, currency string) string {
	return fmt.Sprintf("Dear %s,\n\nNew product in %s!\nPrice: %s %s\nMin Quantity: %s units\n\nSee images below:",
		r.Name, r.Category, currency, humanize.Commaf(r.Price), humanize.Commaf(r.MinQuantity))
}

// compose picks the message text: a batch template wins, then the
// recipient's own message, then the product announcement.
func compose(r Recipient, tmpl, currency string) (string, error) {
	switch {
	case tmpl != "":
		return RenderTemplate(tmpl, r), nil
	case strings.TrimSpace(r.Message) != "":
		return r.Message, nil
	case r.Name != "" && r.Category != "":
		return ProductMessage(r, currency), nil
	default:
		return "", errMissingFields
	}
}
