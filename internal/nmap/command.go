// Package nmap builds scan command lines and normalizes the tool's XML
// reports. The tool itself is treated as an opaque external program,
// always invoked with an argument vector and never through a shell.
package nmap

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/shlex"
)

// Builder produces argument vectors for the supported scan profiles.
type Builder struct {
	binary string
}

func NewBuilder() Builder {
	return Builder{binary: "nmap"}
}

// WithBinary overrides the scan binary path or name.
func (b Builder) WithBinary(path string) Builder {
	if path != "" {
		b.binary = path
	}
	return b
}

// Quick scans roughly the 100 most common ports.
func (b Builder) Quick(target string) []string {
	return []string{b.binary, "-F", "-T4", "-oX", "-", target}
}

// Full scans all 65535 ports with service version detection.
func (b Builder) Full(target string) []string {
	return []string{b.binary, "-p", "1-65535", "-T4", "-sV", "-oX", "-", target}
}

// Custom tokenizes a user-supplied command line. A leading "nmap" (or
// the configured binary) is normalized to the configured path, any other
// first token is treated as an option or target and the binary is
// prepended. The raw string never reaches a shell, so embedded
// metacharacters carry no special meaning.
func (b Builder) Custom(raw string) ([]string, error) {
	parts, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("tokenizing scan command: %w", err)
	}
	if len(parts) == 0 {
		return nil, errors.New("empty scan command")
	}

	switch {
	case parts[0] == "nmap" || parts[0] == b.binary || filepath.Base(parts[0]) == filepath.Base(b.binary):
		parts[0] = b.binary
	default:
		parts = append([]string{b.binary}, parts...)
	}
	return parts, nil
}

// Target guesses the scan target of an argument vector, which by nmap
// convention is the last argument.
func Target(command []string) string {
	if len(command) == 0 {
		return "unknown"
	}
	return command[len(command)-1]
}
