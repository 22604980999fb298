package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbScreen is large enough for the widest viewport a session asks for.
const xvfbScreen = "2560x1600x24"

// displaySocket is the X11 socket Xvfb creates for display ":N".
func displaySocket(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if !ok || n == "" || strings.ContainsAny(n, "/.") {
		return "", fmt.Errorf("invalid display %q", display)
	}
	return "/tmp/.X11-unix/X" + n, nil
}

// startXvfb runs Xvfb on cfg.Display and waits until its socket accepts
// Chrome, up to wait.
func (m *Manager) startXvfb(wait time.Duration) error {
	if m.xvfb != nil {
		return nil
	}
	sock, err := displaySocket(m.cfg.Display)
	if err != nil {
		return err
	}
	cmd := exec.Command("Xvfb", m.cfg.Display, "-screen", "0", xvfbScreen, "-nolisten", "tcp", "-ac")
	if err := cmd.Start(); err != nil {
		return err
	}
	deadline := time.Now().Add(wait)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			cmd.Process.Kill()
			cmd.Wait()
			return err
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			cmd.Wait()
			return fmt.Errorf("%s did not appear within %s", sock, wait)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: display ready", "display", m.cfg.Display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	cmd := m.xvfb
	if cmd == nil {
		return
	}
	m.xvfb = nil
	if cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
	cmd.Wait()
	m.cfg.Logger.Debug("browser: display stopped", "display", m.cfg.Display)
}
