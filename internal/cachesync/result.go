package cachesync

import (
	"encoding/json"
	"errors"
	"time"
)

type Operation string

const (
	OpRegisterKey   Operation = "register_key"
	OpDeleteKey     Operation = "delete_key"
	OpUpdateCredits Operation = "update_credits"
	OpGetKey        Operation = "get_key"
	OpSyncStatus    Operation = "sync_status"
)

// Result is the outcome of one cache-proxy call. Calls never return errors;
// transport failures are folded into Success=false with a classified StatusCode.
type Result struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("cache result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// KeyEntry is the cached view of one API key.
type KeyEntry struct {
	Key       string     `json:"key"`
	UserID    string     `json:"user_id"`
	Credits   int64      `json:"credits"`
	Active    bool       `json:"active"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type SyncStatus struct {
	Redis     string `json:"redis"`
	KeyCount  int64  `json:"key_count"`
	CheckedAt string `json:"checked_at"`
}

func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "****"
}
