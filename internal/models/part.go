package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Part is a leaf of a message body structure. ID is the IMAP section path ("1", "2.1")
// or, for backends without part addressing, the position in the parsed message.
type Part struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Filename    string `json:"filename,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	ContentID   string `json:"contentId,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Charset     string `json:"charset,omitempty"`
}

func (p Part) IsAttachment() bool {
	return p.Disposition == "attachment" || p.Filename != ""
}

// PartList is the jsonb column form of a body structure
type PartList []Part

func (p PartList) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *PartList) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(data, p)
}
