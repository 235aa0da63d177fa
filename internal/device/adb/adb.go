// Package adb implements device.Surface over the Android Debug Bridge.
package adb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"github.com/fentz26/uta/internal/connectors"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/uitree"
)

const (
	longPressMS = 1000
	swipeMS     = 500
)

// ErrEmptyCapture is returned when the device produced no screenshot or dump.
var ErrEmptyCapture = errors.New("empty capture")

// Options configures a device.
type Options struct {
	Path        string
	Serial      string
	Timeout     time.Duration
	AppCacheTTL time.Duration
}

// Device drives one Android device through the connector.
type Device struct {
	conn    connectors.Connector
	path    string
	serial  string
	timeout time.Duration
	apps    otter.Cache[string, []string]
}

// New creates a device. Installed packages are cached for AppCacheTTL.
func New(conn connectors.Connector, opts Options) (*Device, error) {
	if opts.Path == "" {
		opts.Path = "adb"
	}
	if opts.AppCacheTTL <= 0 {
		opts.AppCacheTTL = 5 * time.Minute
	}
	cache, err := otter.MustBuilder[string, []string](16).
		WithTTL(opts.AppCacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build app cache: %w", err)
	}
	return &Device{
		conn:    conn,
		path:    opts.Path,
		serial:  opts.Serial,
		timeout: opts.Timeout,
		apps:    cache,
	}, nil
}

// Serial returns the device serial, empty for the default device.
func (d *Device) Serial() string {
	return d.serial
}

func (d *Device) run(ctx context.Context, args ...string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if d.serial != "" {
		args = append([]string{"-s", d.serial}, args...)
	}
	res, err := d.conn.Execute(ctx, d.path, args)
	if err != nil {
		return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("adb %s: exit %d: %s", strings.Join(args, " "), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// CaptureSnapshot implements device.Surface.
func (d *Device) CaptureSnapshot(ctx context.Context) ([]byte, []byte, error) {
	png, err := d.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, nil, err
	}
	if len(png) == 0 {
		return nil, nil, fmt.Errorf("screencap: %w", ErrEmptyCapture)
	}
	dump, err := d.run(ctx, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return nil, nil, err
	}
	if !strings.Contains(dump, "<hierarchy") {
		return nil, nil, fmt.Errorf("uiautomator dump: %w: %s", ErrEmptyCapture, strings.TrimSpace(dump))
	}
	return []byte(png), []byte(dump), nil
}

var (
	currentFocus = regexp.MustCompile(`mCurrentFocus=Window\{[^}]*?\s([A-Za-z0-9_.]+)/`)
	focusedApp   = regexp.MustCompile(`mFocusedApp=.*?\s([A-Za-z0-9_.]+)/`)
)

// CurrentForegroundApp implements device.Surface. An unparseable dump
// reports an empty package.
func (d *Device) CurrentForegroundApp(ctx context.Context) (string, error) {
	out, err := d.run(ctx, "shell", "dumpsys", "window")
	if err != nil {
		return "", err
	}
	return parseForeground(out), nil
}

func parseForeground(dump string) string {
	for _, re := range []*regexp.Regexp{currentFocus, focusedApp} {
		if m := re.FindStringSubmatch(dump); m != nil {
			return m[1]
		}
	}
	return ""
}

// KeyboardActive implements device.Surface.
func (d *Device) KeyboardActive(ctx context.Context) (bool, error) {
	out, err := d.run(ctx, "shell", "dumpsys", "input_method")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "mInputShown=true") || strings.Contains(out, "isInputViewShown=true"), nil
}

// Perform implements device.Surface.
func (d *Device) Perform(ctx context.Context, action models.Action, b uitree.Bounds) error {
	x, y := b.Center()
	w, h := b.Width(), b.Height()
	switch action.Kind {
	case models.ActionClick:
		return d.tap(ctx, x, y)
	case models.ActionLongPress:
		return d.swipe(ctx, x, y, x, y, longPressMS)
	case models.ActionScrollUp:
		return d.swipe(ctx, x, b.Top+h/4, x, b.Bottom-h/4, swipeMS)
	case models.ActionScrollDown:
		return d.swipe(ctx, x, b.Bottom-h/4, x, b.Top+h/4, swipeMS)
	case models.ActionSwipeLeft:
		return d.swipe(ctx, b.Right-w/4, y, b.Left+w/4, y, swipeMS)
	case models.ActionSwipeRight:
		return d.swipe(ctx, b.Left+w/4, y, b.Right-w/4, y, swipeMS)
	case models.ActionInput:
		_, err := d.run(ctx, "shell", "input", "text", escapeText(action.InputText))
		return err
	case models.ActionLaunchApp:
		return d.LaunchApp(ctx, action.Package)
	case models.ActionComplete, models.ActionNone:
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action.Kind)
	}
}

func (d *Device) tap(ctx context.Context, x, y int) error {
	_, err := d.run(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (d *Device) swipe(ctx context.Context, x1, y1, x2, y2, ms int) error {
	_, err := d.run(ctx, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(ms))
	return err
}

// escapeText prepares text for `input text`: spaces become %s and shell
// metacharacters are backslash-escaped.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteString("%s")
		case strings.ContainsRune(`\"'()<>|;&*~$!?#`+"`", r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LaunchApp implements device.Surface.
func (d *Device) LaunchApp(ctx context.Context, pkg string) error {
	if pkg == "" {
		return fmt.Errorf("launch app: empty package")
	}
	out, err := d.run(ctx, "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(out, "No activities found") {
		return fmt.Errorf("launch %s: no launcher activity", pkg)
	}
	return nil
}

// InstalledApps implements device.Surface. Results are cached per serial.
func (d *Device) InstalledApps(ctx context.Context) ([]string, error) {
	if pkgs, ok := d.apps.Get(d.serial); ok {
		return pkgs, nil
	}
	out, err := d.run(ctx, "shell", "pm", "list", "packages")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(strings.TrimSpace(line), "package:"); ok && p != "" {
			pkgs = append(pkgs, p)
		}
	}
	sort.Strings(pkgs)
	d.apps.Set(d.serial, pkgs)
	return pkgs, nil
}

// Devices lists attached device serials in the "device" state.
func Devices(ctx context.Context, conn connectors.Connector, path string) ([]string, error) {
	if path == "" {
		path = "adb"
	}
	res, err := conn.Execute(ctx, path, []string{"devices"})
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	var serials []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials, nil
}
