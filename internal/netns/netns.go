// Package netns brings up the loopback interface inside a freshly
// unshared network namespace (§4.I step 6, "setup_network"). A new
// CLONE_NEWNET namespace starts with "lo" present but administratively
// down; nothing else can bind to 127.0.0.1 until it's brought up.
package netns

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// BringUpLoopback sets the "lo" interface to the up state in the
// current network namespace.
func BringUpLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("link lo: %w", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set lo up: %w", err)
	}
	return nil
}
