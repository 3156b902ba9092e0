// Package reminder sends overdue-payment reminders. Payments are read from a
// workbook or JSON export, rendered into reminder text, and handed to the
// dispatch engine once the session is ready.
package reminder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/sheet"
)

// DefaultCurrency prefixes outstanding amounts when none is configured.
const DefaultCurrency = "NPR"

// optOutMarker is appended to the text of parties who asked not to be
// messaged; the dispatch opt-out filter drops those recipients.
const optOutMarker = "send message: n"

// Compose renders the reminder text for one payment.
func Compose(p sheet.Payment, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	return fmt.Sprintf("Dear Customer,\n\nThis is a payment reminder. Your payment is %d days overdue.\n"+
		"Please settle the outstanding amount of %s %s at your earliest convenience.\n\nThank you.",
		p.DaysLate, currency, humanize.Commaf(p.Outstanding))
}

// Recipients turns payments into dispatch recipients with composed text.
func Recipients(payments []sheet.Payment, currency string) []dispatch.Recipient {
	out := make([]dispatch.Recipient, 0, len(payments))
	for _, p := range payments {
		msg := Compose(p, currency)
		if strings.EqualFold(strings.TrimSpace(p.SendMessage), "n") {
			msg += "\n\n" + optOutMarker
		}
		out = append(out, dispatch.Recipient{
			CountryCode: p.CountryCode,
			Number:      p.Number,
			Name:        p.Name,
			Message:     msg,
		})
	}
	return out
}

// LoadPayments reads payments from an .xlsx workbook or a .json export.
func LoadPayments(path string) ([]sheet.Payment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reminder: open %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return sheet.ReadPayments(f)
	case ".json":
		return DecodePayments(f)
	default:
		return nil, fmt.Errorf("reminder: unsupported payments file %s (want .xlsx or .json)", filepath.Base(path))
	}
}

// DecodePayments reads a JSON array of payments. Both snake_case and
// camelCase keys are accepted, and numeric fields may be strings.
func DecodePayments(r io.Reader) ([]sheet.Payment, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("reminder: decode payments: %w", err)
	}
	out := make([]sheet.Payment, 0, len(raw))
	for i, row := range raw {
		p := sheet.Payment{
			CountryCode: field(row, "country_code", "countryCode"),
			Number:      field(row, "number"),
			Name:        field(row, "name"),
			SendMessage: field(row, "send_message", "sendMessage"),
		}
		days, err := numeric(field(row, "days_late", "daysLate"))
		if err != nil {
			return nil, fmt.Errorf("reminder: payment %d daysLate: %w", i+1, err)
		}
		amount, err := numeric(field(row, "outstanding_amount", "outstandingAmount"))
		if err != nil {
			return nil, fmt.Errorf("reminder: payment %d outstandingAmount: %w", i+1, err)
		}
		p.DaysLate, p.Outstanding = int(days), amount
		out = append(out, p)
	}
	return out, nil
}

func field(row map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := row[k].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func numeric(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
