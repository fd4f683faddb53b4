package auth

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// BrowserOpener drives the user's browser to a URL. Flows take it as a
// dependency so tests and non-interactive runs can intercept it.
type BrowserOpener func(url string) error

// OpenBrowser launches the platform browser. KAMCTL_NO_BROWSER=true turns it
// into a no-op so scripted runs can print the URL instead.
func OpenBrowser(url string) error {
	if strings.EqualFold(os.Getenv("KAMCTL_NO_BROWSER"), "true") {
		return nil
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
