package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList stores a string slice as a JSON array column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source %T", src)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

// IndexedPost is the public search projection of an approved or settled post.
type IndexedPost struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Status          Status     `gorm:"type:varchar(16);not null;index" json:"status"`
	ScamType        string     `gorm:"type:varchar(100)" json:"scam_type,omitempty"`
	Title           string     `gorm:"type:varchar(300);not null;index" json:"title"`
	Description     string     `gorm:"type:text" json:"description,omitempty"`
	TransactionMode string     `gorm:"type:varchar(100)" json:"transaction_mode,omitempty"`
	PaymentType     string     `gorm:"type:varchar(100)" json:"payment_type,omitempty"`
	PaymentDetails  string     `gorm:"type:text" json:"payment_details,omitempty"`
	MobileNumbers   StringList `gorm:"type:jsonb" json:"mobile_numbers,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	ScamDateTime    *time.Time `json:"scam_date_time,omitempty"`
	ReporterName    string     `gorm:"type:varchar(200)" json:"reporter_name,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;index" json:"created_at"`
	IndexedAt       time.Time  `gorm:"not null" json:"indexed_at"`
}

// TableName pins the index table name.
func (IndexedPost) TableName() string { return "indexed_posts" }

// SearchPage is one page of full-text search results.
type SearchPage struct {
	Items      []IndexedPost `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalCount int64         `json:"total_count"`
}

func (p SearchPage) HasPreviousPage() bool { return p.Page > 1 }

func (p SearchPage) HasNextPage() bool {
	return int64(p.Page)*int64(p.PageSize) < p.TotalCount
}

// MarshalJSON adds the derived paging flags to the payload.
func (p SearchPage) MarshalJSON() ([]byte, error) {
	type alias SearchPage
	return json.Marshal(struct {
		alias
		HasNextPage     bool `json:"has_next_page"`
		HasPreviousPage bool `json:"has_previous_page"`
	}{alias(p), p.HasNextPage(), p.HasPreviousPage()})
}
