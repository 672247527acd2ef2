package x11

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
	"github.com/anoopengineer/edidparser/edid"
)

// Monitor represents a physical display
type Monitor struct {
	// Identity is derived from the EDID block and survives reconnects.
	Identity string
	Name     string
	X        int
	Y        int
	Width    int
	Height   int
}

// GetMonitors retrieves all active monitors using XRandR
func (c *Connection) GetMonitors() ([]Monitor, error) {
	conn := c.XUtil.Conn()

	resources, err := randr.GetScreenResourcesCurrent(conn, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	edidAtom, err := xproto.InternAtom(conn, false, uint16(len("EDID")), "EDID").Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to intern EDID atom: %w", err)
	}

	var monitors []Monitor
	seen := make(map[string]bool)

	// Query each CRTC for active monitors
	for i, crtc := range resources.Crtcs {
		crtcInfo, err := randr.GetCrtcInfo(conn, crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		// Skip disabled CRTCs
		if crtcInfo.Width == 0 || crtcInfo.Height == 0 || len(crtcInfo.Outputs) == 0 {
			continue
		}

		output := crtcInfo.Outputs[0]
		outputName := fmt.Sprintf("Monitor%d", i)
		outputInfo, err := randr.GetOutputInfo(conn, output, resources.ConfigTimestamp).Reply()
		if err == nil {
			outputName = string(outputInfo.Name)
		}

		raw, err := c.readEDID(output, edidAtom.Atom)
		if err != nil {
			raw = nil
		}
		identity := IdentityFromEDID(raw, outputName)
		// Two panels of the same model without serial numbers share an
		// EDID identity; the output name keeps them apart.
		if seen[identity] {
			identity = identity + "@" + outputName
		}
		seen[identity] = true

		monitors = append(monitors, Monitor{
			Identity: identity,
			Name:     outputName,
			X:        int(crtcInfo.X),
			Y:        int(crtcInfo.Y),
			Width:    int(crtcInfo.Width),
			Height:   int(crtcInfo.Height),
		})
	}

	return monitors, nil
}

// readEDID returns the raw EDID property of an output, or nil if it has none.
func (c *Connection) readEDID(output randr.Output, atom xproto.Atom) ([]byte, error) {
	// 64 32-bit units covers the 256 byte maximum of an EDID block.
	const offset, length = 0, 64
	reply, err := randr.GetOutputProperty(c.XUtil.Conn(), output, atom, xproto.AtomAny, offset, length, false, false).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get EDID property: %w", err)
	}
	if reply.BytesAfter != 0 {
		return nil, fmt.Errorf("EDID data too large: %d bytes", 256+reply.BytesAfter)
	}
	return reply.Data, nil
}

// IdentityFromEDID builds a stable display identity from an EDID block.
// Outputs without a readable EDID fall back to their output name.
func IdentityFromEDID(raw []byte, outputName string) string {
	if len(raw) == 0 {
		return fallbackIdentity(outputName)
	}
	e, err := edid.NewEdid(raw)
	if err != nil || e.ManufacturerId == "" {
		return fallbackIdentity(outputName)
	}
	return formatIdentity(e.ManufacturerId, e.ProductCode, e.SerialNumber)
}

func formatIdentity(manufacturer string, product uint16, serial uint32) string {
	return fmt.Sprintf("%s-%04X-%d", manufacturer, product, serial)
}

func fallbackIdentity(outputName string) string {
	return "output:" + outputName
}

// WatchTopology calls onChange for every RandR screen, CRTC or output change
// until ctx is cancelled. Events are delivered by EventLoop, so onChange runs
// on the event loop goroutine and must not block.
func (c *Connection) WatchTopology(ctx context.Context, onChange func()) error {
	mask := randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange
	if err := randr.SelectInputChecked(c.XUtil.Conn(), c.Root, uint16(mask)).Check(); err != nil {
		return fmt.Errorf("could not watch RANDR events: %w", err)
	}

	var active atomic.Bool
	active.Store(true)
	xevent.HookFun(func(_ *xgbutil.XUtil, ev interface{}) bool {
		if !active.Load() {
			return true
		}
		switch ev.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			onChange()
		}
		return true
	}).Connect(c.XUtil)

	<-ctx.Done()
	active.Store(false)
	return nil
}
