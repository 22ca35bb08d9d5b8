// Package fstab parses the fstab-format mount table consumed by the
// mount executor (§3 "Mount entry", §6 "Fstab format"). This is one of
// the components the specification treats as an external collaborator
// ("straightforward glue... pure functions returning configuration
// records"), so it is a small hand-rolled scanner rather than a
// third-party dependency: no ecosystem fstab library models the
// project's pseudo-types (_bindents, _umount) or its x-mount.mkdir
// option, so adopting one would mean immediately monkey-patching it.
package fstab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
)

// Parse reads an fstab-format file in document order. Blank lines and
// lines beginning with '#' are skipped, matching getmntent's behavior.
func Parse(path string) ([]isolatecfg.MountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fstab: %s: %w", path, err)
	}
	defer f.Close()

	return ParseReader(f)
}

// ParseReader is Parse over an already-open reader, split out for
// testing without touching the filesystem.
func ParseReader(r io.Reader) ([]isolatecfg.MountEntry, error) {
	var entries []isolatecfg.MountEntry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("fstab:%d: expected at least 4 fields, got %d", lineNo, len(fields))
		}

		ent := isolatecfg.MountEntry{
			FsName: fields[0],
			Dir:    fields[1],
			Type:   fields[2],
			Opts:   fields[3],
		}

		if len(fields) > 4 {
			ent.Freq, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			ent.Passno, _ = strconv.Atoi(fields[5])
		}

		entries = append(entries, ent)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan fstab: %w", err)
	}

	return entries, nil
}
