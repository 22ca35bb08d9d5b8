package cgroups

import (
	"strings"

	"github.com/legionus/make-initrd-isolation/internal/isolatecfg"
)

// ParseControllers splits a comma-separated controller list (the
// "cgroups" config/CLI option) into CgroupController entries, each
// mounted under a directory named after itself, de-duplicating repeats
// in document order (cgroup_split_controllers/cgroup_controller).
func ParseControllers(opts string) []isolatecfg.CgroupController {
	var out []isolatecfg.CgroupController
	seen := make(map[string]bool)

	for _, tok := range strings.Split(opts, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, isolatecfg.CgroupController{Controller: tok, DirName: tok})
	}
	return out
}
