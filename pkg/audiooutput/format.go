package audiooutput

import (
	"fmt"
	"strings"
)

type Format int

const (
	FormatBuffer = Format(iota)
	FormatFile
	FormatSamples
	endOfFormat
)

func (f Format) String() string {
	switch f {
	case FormatBuffer:
		return "buffer"
	case FormatFile:
		return "file"
	case FormatSamples:
		return "samples"
	}
	return fmt.Sprintf("unknown_format_%d", int(f))
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "buffer", "raw", "arraybuffer":
		return FormatBuffer, nil
	case "file", "wav", "blob":
		return FormatFile, nil
	case "samples", "array", "float32array":
		return FormatSamples, nil
	}
	return FormatBuffer, fmt.Errorf("unknown output format '%s'", s)
}

// Set implements pflag.Value.
func (f *Format) Set(s string) error {
	v, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Type implements pflag.Value.
func (*Format) Type() string {
	return "output-format"
}
