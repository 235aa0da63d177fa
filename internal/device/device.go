// Package device defines the surface the automation loop drives.
package device

import (
	"context"

	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/uitree"
)

// Surface executes primitive actions on one device and reports its state.
type Surface interface {
	// CaptureSnapshot returns the raw screenshot and view hierarchy dump.
	CaptureSnapshot(ctx context.Context) (screenshot, hierarchy []byte, err error)
	CurrentForegroundApp(ctx context.Context) (string, error)
	KeyboardActive(ctx context.Context) (bool, error)
	// Perform executes a UI action against the target element's bounds.
	Perform(ctx context.Context, action models.Action, target uitree.Bounds) error
	LaunchApp(ctx context.Context, pkg string) error
	InstalledApps(ctx context.Context) ([]string, error)
}

// Capture takes one snapshot: raw capture, parse, and the foreground app.
func Capture(ctx context.Context, s Surface) (*uitree.Snapshot, error) {
	screenshot, hierarchy, err := s.CaptureSnapshot(ctx)
	if err != nil {
		return nil, models.NewDeviceError("capture snapshot", err)
	}
	fg, err := s.CurrentForegroundApp(ctx)
	if err != nil {
		return nil, models.NewDeviceError("foreground app", err)
	}
	snap, err := uitree.NewSnapshot(screenshot, hierarchy, fg)
	if err != nil {
		return nil, models.NewDeviceError("parse hierarchy", err)
	}
	return snap, nil
}
