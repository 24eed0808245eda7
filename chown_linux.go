//go:build linux
// +build linux

package cordwood

import (
	"fmt"
	"os"
	"syscall"
)

// osChown is a var so we can mock it out during tests.
var osChown = os.Chown

// chown carries the owner of info over to the file at name. The file
// already exists; only ownership is touched.
func chown(name string, info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("failed to get syscall.Stat_t for %s", name)
	}
	return osChown(name, int(stat.Uid), int(stat.Gid))
}
