package stash

import (
	"encoding/json"
	"fmt"
	"strings"

	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// Format selects the compression applied to stash archives.
type Format int

const (
	// FormatGzip produces .tar.gz archives using parallel gzip.
	FormatGzip Format = iota
	// FormatZstd produces .tar.zst archives.
	FormatZstd
)

var formatToString = map[Format]string{
	FormatGzip: "gzip",
	FormatZstd: "zstd",
}

var stringToFormat = util.InvertMap(formatToString)

func (f Format) String() string {
	if s, ok := formatToString[f]; ok {
		return s
	}
	return "unknown"
}

// Extension returns the archive file name suffix for the format.
func (f Format) Extension() string {
	if f == FormatZstd {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// ParseFormat converts a config string into a Format.
func ParseFormat(s string) (Format, error) {
	if f, ok := stringToFormat[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return FormatGzip, fmt.Errorf("unknown stash format %q (valid: gzip, zstd)", s)
}

func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
