package quiz

import (
	"encoding/json"
	"fmt"
)

// ID is the canonical quiz-platform identifier. External collaborators
// encode identifiers either as a plain JSON string or as the extended
// `{"$oid": "..."}` document form; both are normalized to ID at the
// boundary, so nothing downstream branches on shape.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var ext struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(data, &ext); err == nil && ext.OID != "" {
		*id = ID(ext.OID)
		return nil
	}
	return fmt.Errorf("unsupported id encoding: %s", string(data))
}
