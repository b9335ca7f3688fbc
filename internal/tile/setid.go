package tile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SetID is the persistent identifier of a tile set.
type SetID uint64

func (id SetID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseSetID parses a decimal set id, as found in URL paths.
func ParseSetID(s string) (SetID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid set id %q: %w", s, err)
	}
	return SetID(v), nil
}

// NullSetID is a SetID that may be unassigned, in the manner of sql.NullInt64.
// The zero value is unassigned.
type NullSetID struct {
	ID    SetID
	Valid bool
}

func Assigned(id SetID) NullSetID { return NullSetID{ID: id, Valid: true} }

func Unassigned() NullSetID { return NullSetID{} }

func (n NullSetID) Get() (SetID, bool) { return n.ID, n.Valid }

func (n NullSetID) String() string {
	if !n.Valid {
		return "unassigned"
	}
	return n.ID.String()
}

func (n NullSetID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(uint64(n.ID))
}

func (n *NullSetID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = NullSetID{}
		return nil
	}
	var v uint64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("set id must be an unsigned integer or null: %w", err)
	}
	*n = Assigned(SetID(v))
	return nil
}
