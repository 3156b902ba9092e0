package models

import "time"

// Record is one ledger entry: a party name, the group it falls under, and a
// phone number to reach it on.
type Record struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"_id"`
	Name        string    `gorm:"column:name_of_ledger;size:256;not null;index" json:"Name of Ledger"`
	Under       string    `gorm:"size:256;not null" json:"Under"`
	PhoneNumber string    `gorm:"size:32;not null" json:"phone_number"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
