package domain

import "encoding/json"

// Reminder job payloads cross the scheduler/worker boundary as a flat
// key-value map. Keys are named here so a typo cannot silently drop a
// required field on either side.
const (
	PayloadKeyTaskID      = "task_id"
	PayloadKeyTitle       = "title"
	PayloadKeyDescription = "description"
)

func EncodePayload(m map[string]string) ([]byte, error) {
	return json.Marshal(m)
}

func DecodePayload(b []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
