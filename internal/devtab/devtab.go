// Package devtab parses the devices-file format consumed by the device
// maker (§3 "Device entry", §6 "Device file format"). Like fstab, this
// is an out-of-scope external collaborator per §1 — a pure function over
// an already-mapped file.
package devtab

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
	"github.com/legionus/make-initrd-isolation/internal/mapfile"
)

// Parse reads device entries out of a mapped devices-file. Blank lines
// and '#' comments are skipped; any line whose first token isn't "nod"
// is skipped per §4.E.
func Parse(f *mapfile.File) ([]isolatecfg.DeviceEntry, error) {
	var entries []isolatecfg.DeviceEntry

	data := f.Bytes()
	if data == nil {
		return entries, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if fields[0] != "nod" {
			continue
		}
		if len(fields) != 8 {
			return nil, fmt.Errorf("%s:%d: expected 'nod PATH MODE UID GID TYPE MAJOR MINOR', got %d fields",
				f.Filename, lineNo, len(fields))
		}

		mode, err := strconv.ParseUint(fields[2], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad mode %q: %w", f.Filename, lineNo, fields[2], err)
		}
		uid, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad uid %q: %w", f.Filename, lineNo, fields[3], err)
		}
		gid, err := strconv.Atoi(fields[4])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad gid %q: %w", f.Filename, lineNo, fields[4], err)
		}

		typ := isolatecfg.DeviceType(fields[5][0])
		switch typ {
		case isolatecfg.DeviceChar, isolatecfg.DeviceBlock, isolatecfg.DeviceFIFO, isolatecfg.DeviceSocket:
		default:
			return nil, fmt.Errorf("%s:%d: unknown device type %q", f.Filename, lineNo, fields[5])
		}

		major, err := strconv.ParseUint(fields[6], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad major %q: %w", f.Filename, lineNo, fields[6], err)
		}
		minor, err := strconv.ParseUint(fields[7], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad minor %q: %w", f.Filename, lineNo, fields[7], err)
		}

		entries = append(entries, isolatecfg.DeviceEntry{
			Path:  fields[1],
			Mode:  uint32(mode),
			UID:   uid,
			GID:   gid,
			Type:  typ,
			Major: uint32(major),
			Minor: uint32(minor),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", f.Filename, err)
	}

	return entries, nil
}
