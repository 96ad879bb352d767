package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Topic is a department/topic that turns can be routed to
type Topic struct {
	ID          uint        `gorm:"primaryKey" json:"id" yaml:"-"`
	Name        string      `gorm:"type:varchar(255);not null;uniqueIndex" json:"name" yaml:"name"`
	Description string      `gorm:"type:text" json:"description" yaml:"description"`
	Keywords    StringArray `json:"keywords" yaml:"keywords"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// TableName specifies the table name for Topic
func (Topic) TableName() string {
	return "topics"
}

// StringArray is a custom type for storing string arrays as JSON
type StringArray []string

// GormDataType keeps GORM from treating the slice as an association
func (StringArray) GormDataType() string {
	return "json"
}

// GormDBDataType stores the array as JSONB on PostgreSQL and JSON elsewhere
func (StringArray) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal StringArray value")
	}

	if len(bytes) == 0 {
		*s = StringArray{}
		return nil
	}

	return json.Unmarshal(bytes, s)
}

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
