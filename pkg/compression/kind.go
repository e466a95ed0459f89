package compression

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/paulschiretz/pgl-filebackup/pkg/util"
)

// Kind is the codec applied to a single file's bytes.
type Kind string

const (
	None Kind = "none"
	Gzip Kind = "gzip"
	Zlib Kind = "zlib"
	Lz4  Kind = "lz4"
	Zstd Kind = "zstd"
)

var kindToString = map[Kind]string{
	None: "none",
	Gzip: "gzip",
	Zlib: "zlib",
	Lz4:  "lz4",
	Zstd: "zstd",
}

var stringToKind map[string]Kind

// kindToExtension is the filename suffix convention restore depends on.
var kindToExtension = map[Kind]string{
	None: "",
	Gzip: ".gz",
	Zlib: ".z",
	Lz4:  ".lz4",
	Zstd: ".zst",
}

var extensionToKind map[string]Kind

func init() {
	// Inverting the maps at runtime ensures the forward maps are fully loaded
	stringToKind = util.InvertMap(kindToString)
	extensionToKind = util.InvertMap(kindToExtension)
	delete(extensionToKind, "")
}

func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compression_kind(%s)", string(k))
}

// ParseKind parses a compression kind name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	if kind, ok := stringToKind[strings.ToLower(s)]; ok {
		return kind, nil
	}
	return None, fmt.Errorf("invalid compression: %q. Must be 'none', 'gzip', 'zlib', 'lz4', or 'zstd'", s)
}

// MarshalJSON implements the json.Marshaler interface for Kind.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("compression should be a string, got %s", data)
	}
	kind, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Extension returns the filename suffix for kind, "" for None.
func Extension(kind Kind) string {
	return kindToExtension[kind]
}

// DetectKind maps the final extension of name to a Kind. The match is exact
// and case-sensitive; file contents are never inspected.
func DetectKind(name string) Kind {
	idx := strings.LastIndexByte(name, '.')
	// A bare ".gz" is a hidden file name, not an extension.
	if idx <= 0 || strings.ContainsAny(name[idx-1:], `/\`) {
		return None
	}
	if kind, ok := extensionToKind[name[idx:]]; ok {
		return kind
	}
	return None
}

// StripExtension removes the compression suffix from name and reports which
// kind it denoted.
func StripExtension(name string) (string, Kind) {
	kind := DetectKind(name)
	return strings.TrimSuffix(name, Extension(kind)), kind
}

// MemoryEstimate returns the approximate working set in bytes of one encoder
// or decoder for kind, including the copy buffer.
func MemoryEstimate(kind Kind) int64 {
	switch kind {
	case Gzip:
		// pgzip keeps GOMAXPROCS blocks of 1 MiB in flight, each with an output block.
		return int64(runtime.GOMAXPROCS(0))*2<<20 + BufferSize
	case Zlib:
		return 1<<20 + BufferSize
	case Lz4:
		return 8<<20 + BufferSize
	case Zstd:
		return 32<<20 + BufferSize
	default:
		return BufferSize
	}
}
