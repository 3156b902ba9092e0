// Package sheet reads ledger, payment and product rows from the first sheet
// of an xlsx workbook. Columns are located by header name; matching ignores
// case, spaces and underscores.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/models"
)

var ErrMissingColumn = errors.New("sheet: missing column")

// Payment is one overdue balance to remind a party about.
type Payment struct {
	CountryCode string
	Number      string
	Name        string
	DaysLate    int
	Outstanding float64
	SendMessage string // "n" opts the party out
}

// table is the first sheet with its header row split off.
type table struct {
	cols map[string]int
	rows [][]string // data rows; rows[i] is sheet row i+2
}

func load(r io.Reader) (*table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("sheet: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("sheet: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet: %s is empty", sheets[0])
	}

	t := &table{cols: make(map[string]int), rows: rows[1:]}
	for i, h := range rows[0] {
		key := normalize(h)
		if key == "" {
			continue
		}
		if _, dup := t.cols[key]; !dup {
			t.cols[key] = i
		}
	}
	return t, nil
}

func normalize(h string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
}

func (t *table) require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.cols[normalize(n)]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// each calls fn for every non-blank data row with its sheet row number.
func (t *table) each(fn func(line int, cell func(string) string) error) error {
	for i, row := range t.rows {
		if blank(row) {
			continue
		}
		cell := func(name string) string {
			idx, ok := t.cols[normalize(name)]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if err := fn(i+2, cell); err != nil {
			return err
		}
	}
	return nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func number(line int, col, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("sheet: row %d column %s: %q is not a number", line, col, v)
	}
	return f, nil
}

// digitsOf turns a cell that may have been stored as a float ("9.8e+09" or
// "9812345678.0") back into the digits that were typed.
func digitsOf(v string) string {
	if v == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && strings.ContainsAny(v, ".eE") {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return v
}

// ReadLedger reads "Name of Ledger", "Under" and "phone_number" rows.
func ReadLedger(r io.Reader) ([]models.Record, error) {
	t, err := load(r)
	if err != nil {
		return nil, err
	}
	if err := t.require("Name of Ledger", "Under", "phone_number"); err != nil {
		return nil, err
	}
	var out []models.Record
	err = t.each(func(line int, cell func(string) string) error {
		out = append(out, models.Record{
			Name:        cell("Name of Ledger"),
			Under:       cell("Under"),
			PhoneNumber: digitsOf(cell("phone_number")),
		})
		return nil
	})
	return out, err
}

// ReadPayments reads overdue-balance rows.
func ReadPayments(r io.Reader) ([]Payment, error) {
	t, err := load(r)
	if err != nil {
		return nil, err
	}
	if err := t.require("country_code", "number", "days_late", "outstanding_amount"); err != nil {
		return nil, err
	}
	var out []Payment
	err = t.each(func(line int, cell func(string) string) error {
		days, err := number(line, "days_late", cell("days_late"))
		if err != nil {
			return err
		}
		amount, err := number(line, "outstanding_amount", cell("outstanding_amount"))
		if err != nil {
			return err
		}
		out = append(out, Payment{
			CountryCode: digitsOf(cell("country_code")),
			Number:      digitsOf(cell("number")),
			Name:        cell("name"),
			DaysLate:    int(days),
			Outstanding: amount,
			SendMessage: cell("send_message"),
		})
		return nil
	})
	return out, err
}

// ReadProducts reads product announcement rows as dispatch recipients.
func ReadProducts(r io.Reader) ([]dispatch.Recipient, error) {
	t, err := load(r)
	if err != nil {
		return nil, err
	}
	if err := t.require("country_code", "number", "name", "category", "price", "min_quantity"); err != nil {
		return nil, err
	}
	var out []dispatch.Recipient
	err = t.each(func(line int, cell func(string) string) error {
		price, err := number(line, "price", cell("price"))
		if err != nil {
			return err
		}
		minQty, err := number(line, "min_quantity", cell("min_quantity"))
		if err != nil {
			return err
		}
		out = append(out, dispatch.Recipient{
			CountryCode: digitsOf(cell("country_code")),
			Number:      digitsOf(cell("number")),
			Name:        cell("name"),
			Category:    cell("category"),
			Price:       price,
			MinQuantity: minQty,
		})
		return nil
	})
	return out, err
}
