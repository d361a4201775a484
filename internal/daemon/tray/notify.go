package tray

import (
	"github.com/gen2brain/beeep"

	"github.com/opstray-io/opstray/pkg/logging"
)

// Notify shows a desktop notification. Failures are logged and swallowed;
// a missing notification daemon must not take the tray down with it.
func Notify(title, message string) {
	if err := beeep.Notify(title, message, ""); err != nil {
		logging.Warn("Tray", "desktop notification failed: %v", err)
	}
}
