package conflict

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Mode defines how to handle a destination path that already exists.
type Mode string

const (
	// Ask prompts the operator for every conflict.
	Ask Mode = "ask"
	// Overwrite replaces the existing file.
	Overwrite Mode = "overwrite"
	// Skip leaves the existing file untouched.
	Skip Mode = "skip"
	// Rename writes to the first free "name.N" beside the existing file.
	Rename Mode = "rename"
)

var modeToString = map[Mode]string{
	Ask:       "ask",
	Overwrite: "overwrite",
	Skip:      "skip",
	Rename:    "rename",
}

var stringToMode map[string]Mode

func init() {
	stringToMode = util.InvertMap(modeToString)
}

func (m Mode) String() string {
	if str, ok := modeToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_conflict_mode(%s)", string(m))
}

// ParseMode parses a conflict mode name. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	if mode, ok := stringToMode[strings.ToLower(s)]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("invalid conflict mode: %q. Must be 'ask', 'overwrite', 'skip', or 'rename'", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("conflict mode should be a string, got %s", data)
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
