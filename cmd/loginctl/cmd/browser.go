package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// openBrowser launches the system browser on authURL. The URL is always
// printed so it can be opened by hand on headless machines.
func openBrowser(_ context.Context, authURL string) error {
	fmt.Fprintf(os.Stderr, "Opening your browser to sign in. If nothing happens, open:\n\n  %s\n\n", authURL)

	var name string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name, args = "rundll32", []string{"url.dll,FileProtocolHandler"}
	default:
		name = "xdg-open"
	}

	cmd := exec.Command(name, append(args, authURL)...)
	if err := cmd.Start(); err != nil {
		// The printed URL still works.
		return nil
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
