//go:build windows

package dispatcher

import "os"

// terminateSignal falls back to os.Kill on Windows, which has no SIGTERM;
// the KillGrace window still applies before the hard os.Process.Kill.
func terminateSignal() os.Signal {
	return os.Kill
}
