package shared

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// browserCommand returns the launcher for url on goos. Linux without a graphical session
// (e.g. over SSH on a NAS) has no browser to open, so the caller prints the URL instead.
func browserCommand(goos, url string, getenv func(string) string) (string, []string, error) {
	switch goos {
	case "darwin":
		return "open", []string{url}, nil
	case "linux", "freebsd", "openbsd":
		if getenv("DISPLAY") == "" && getenv("WAYLAND_DISPLAY") == "" {
			return "", nil, fmt.Errorf("%w: no graphical session", ErrServiceUnavailable)
		}
		return "xdg-open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	default:
		return "", nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// OpenBrowser opens url in the default system browser without waiting for it.
func OpenBrowser(url string) error {
	name, args, err := browserCommand(runtime.GOOS, url, os.Getenv)
	if err != nil {
		return err
	}
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
