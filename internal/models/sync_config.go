package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/customeros/mailbackend/internal/enum"
)

// SyncConfig is the per-call sync policy. MaxAutoDownloadSize <= 0 means no limit.
type SyncConfig struct {
	ExpungePolicy       enum.ExpungePolicy `json:"expungePolicy"`
	EarliestPollDate    *time.Time         `json:"earliestPollDate,omitempty"`
	SyncRemoteDeletions bool               `json:"syncRemoteDeletions"`
	MaxAutoDownloadSize int64              `json:"maxAutoDownloadSize"`
	DefaultVisibleLimit int                `json:"defaultVisibleLimit"`
	SyncFlags           []enum.Flag        `json:"syncFlags"`
}

func (c SyncConfig) ShouldDownloadFully(size int64) bool {
	return c.MaxAutoDownloadSize <= 0 || size <= c.MaxAutoDownloadSize
}

// Value stores an account's sync preferences as jsonb
func (c SyncConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *SyncConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, isString := value.(string); isString {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, c)
}
