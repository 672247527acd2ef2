package x11

import (
	"fmt"
	"time"

	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
)

// IdleTime returns the time since the last keyboard or pointer input, as
// tracked by the MIT-SCREEN-SAVER extension.
func (c *Connection) IdleTime() (time.Duration, error) {
	if !c.hasScreensaver {
		return 0, fmt.Errorf("MIT-SCREEN-SAVER extension unavailable")
	}
	info, err := screensaver.QueryInfo(c.XUtil.Conn(), xproto.Drawable(c.Root)).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query idle time: %w", err)
	}
	return time.Duration(info.MsSinceUserInput) * time.Millisecond, nil
}
