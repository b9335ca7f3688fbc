package tile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the download lifecycle of a tile queued for a tile set.
// Pending -> Downloading -> Complete | Error; a retry puts the tile back to Pending.
type State int

const (
	StatePending State = iota
	StateDownloading
	StateError
	StateComplete
)

var stateNames = [...]string{"pending", "downloading", "error", "complete"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) Valid() bool {
	return s >= StatePending && s <= StateComplete
}

func ParseState(v string) (State, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range stateNames {
		if name == v {
			return State(i), nil
		}
	}
	return StatePending, fmt.Errorf("unknown tile state %q", v)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("tile state must be a string: %w", err)
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
