// Package records is the ledger store: parties, the group they belong to,
// and the number they are messaged on.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("records: record not found")
	ErrInvalid  = errors.New("records: missing required fields")
)

// importBatchSize bounds a single INSERT during bulk import.
const importBatchSize = 200

// Store reads and writes ledger records.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by db. Tables must already be migrated.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Validate trims every field and checks that none is empty.
func Validate(r *models.Record) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Under = strings.TrimSpace(r.Under)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	var missing []string
	if r.Name == "" {
		missing = append(missing, "Name of Ledger")
	}
	if r.Under == "" {
		missing = append(missing, "Under")
	}
	if r.PhoneNumber == "" {
		missing = append(missing, "phone_number")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// List returns every record ordered by id.
func (s *Store) List(ctx context.Context) ([]models.Record, error) {
	var out []models.Record
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("records: list: %w", err)
	}
	return out, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, id uint) (*models.Record, error) {
	var r models.Record
	err := s.db.WithContext(ctx).First(&r, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("records: get %d: %w", id, err)
	}
	return &r, nil
}

// Create inserts a record after validation.
func (s *Store) Create(ctx context.Context, r *models.Record) error {
	if err := Validate(r); err != nil {
		return err
	}
	r.ID = 0
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("records: create: %w", err)
	}
	return nil
}

// Update replaces all three fields of an existing record.
func (s *Store) Update(ctx context.Context, id uint, in models.Record) (*models.Record, error) {
	if err := Validate(&in); err != nil {
		return nil, err
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name, existing.Under, existing.PhoneNumber = in.Name, in.Under, in.PhoneNumber
	if err := s.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, fmt.Errorf("records: update %d: %w", id, err)
	}
	return existing, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Record{}, id)
	if res.Error != nil {
		return fmt.Errorf("records: delete %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchByName returns records whose name contains name, ignoring case.
func (s *Store) SearchByName(ctx context.Context, name string) ([]models.Record, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(name))) + "%"
	var out []models.Record
	err := s.db.WithContext(ctx).
		Where("LOWER(name_of_ledger) LIKE ? ESCAPE '!'", pattern).
		Order("name_of_ledger ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("records: search %q: %w", name, err)
	}
	return out, nil
}

// ImportMany inserts rows in one transaction. Any invalid row rejects the
// whole import.
func (s *Store) ImportMany(ctx context.Context, rows []models.Record) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i := range rows {
		rows[i].ID = 0
		if err := Validate(&rows[i]); err != nil {
			return 0, fmt.Errorf("records: row %d: %w", i+1, err)
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, importBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("records: import: %w", err)
	}
	return len(rows), nil
}

// DecodeJSON reads a JSON array of records as exported by the ledger tool.
// Phone numbers may be strings or numbers.
func DecodeJSON(r io.Reader) ([]models.Record, error) {
	var raw []struct {
		Name  string          `json:"Name of Ledger"`
		Under string          `json:"Under"`
		Phone json.RawMessage `json:"phone_number"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("records: decode json: %w", err)
	}
	out := make([]models.Record, 0, len(raw))
	for i, row := range raw {
		phone, err := phoneString(row.Phone)
		if err != nil {
			return nil, fmt.Errorf("records: row %d phone_number: %w", i+1, err)
		}
		out = append(out, models.Record{Name: row.Name, Under: row.Under, PhoneNumber: phone})
	}
	return out, nil
}

func phoneString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
