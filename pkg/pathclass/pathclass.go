// Package pathclass classifies filesystem paths without following symlinks.
package pathclass

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Type is the coarse classification of a path.
type Type int

const (
	Missing Type = iota
	Regular
	Directory
	// Other covers symlinks, devices, sockets and fifos. Entries of this type
	// are never opened for reading or writing.
	Other
)

var typeToString = map[Type]string{
	Missing:   "missing",
	Regular:   "file",
	Directory: "dir",
	Other:     "other",
}

var stringToType map[string]Type

func init() {
	stringToType = util.InvertMap(typeToString)
}

func (t Type) String() string {
	if str, ok := typeToString[t]; ok {
		return str
	}
	return fmt.Sprintf("unknown_path_type(%d)", int(t))
}

// ParseType parses the string form of a Type.
func ParseType(s string) (Type, error) {
	if t, ok := stringToType[s]; ok {
		return t, nil
	}
	return Missing, fmt.Errorf("invalid path type: %q", s)
}

// MarshalJSON implements the json.Marshaler interface for Type.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Type.
func (t *Type) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("path type should be a string, got %s", data)
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Info is the metadata of a classified path. It is a value type so that it can
// be stored inline in walk entries.
type Info struct {
	Type    Type
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// FromFileInfo classifies an Lstat result.
func FromFileInfo(fi fs.FileInfo) Info {
	info := Info{Size: fi.Size(), ModTime: fi.ModTime(), Mode: fi.Mode()}
	switch {
	case fi.Mode().IsRegular():
		info.Type = Regular
	case fi.IsDir():
		info.Type = Directory
		info.Size = 0
	default:
		info.Type = Other
		info.Size = 0
	}
	return info
}

// Classify stats path without following symlinks. A path that does not exist
// yields Type Missing and a nil error; any other stat failure is a
// FileOpenError.
func Classify(path string) (Info, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{Type: Missing}, nil
		}
		return Info{}, resultcode.New(resultcode.FileOpenError, "stat", path, err)
	}
	return FromFileInfo(fi), nil
}

// Exists reports whether anything, including a dangling symlink, occupies path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
