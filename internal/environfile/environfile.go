// Package environfile parses and applies the environ-file format loaded
// by the container init after clearenv() (§3, §6 "Environ file format").
package environfile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/legionus/make-initrd-isolation/internal/mapfile"
)

// Parse reads `KEY=VALUE` lines out of a mapped environ-file. Blank
// lines and '#' comments are ignored; a line with no '=' is an error.
func Parse(f *mapfile.File) ([][2]string, error) {
	var vars [][2]string

	data := f.Bytes()
	if data == nil {
		return vars, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing '=' in %q", f.Filename, lineNo, line)
		}
		vars = append(vars, [2]string{key, value})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", f.Filename, err)
	}

	return vars, nil
}

// Load clears the process environment and repopulates it from vars, the
// Go equivalent of clearenv() followed by a putenv() loop (§4.I step 9).
func Load(vars [][2]string) error {
	os.Clearenv()
	for _, kv := range vars {
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("setenv %s: %w", kv[0], err)
		}
	}
	return nil
}
