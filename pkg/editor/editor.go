// Package editor tells an external editor that a notebook changed on disk.
// Notification is best effort and never affects the result of an operation.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 5 * time.Second

// Notifier signals an editor to reload path.
type Notifier interface {
	Notify(ctx context.Context, path string) error
}

// New returns a Command notifier for args, or Nop when args is empty.
func New(args []string) Notifier {
	if len(args) == 0 {
		return Nop{}
	}
	return Command{Args: args}
}

// Nop does nothing.
type Nop struct{}

func (Nop) Notify(ctx context.Context, path string) error { return nil }

// Command runs Args with the notebook path appended, for example
// ["code", "--reuse-window"].
type Command struct {
	Args []string
}

func (c Command) Notify(ctx context.Context, path string) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("no editor command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	args := append(append([]string(nil), c.Args[1:]...), path)
	out, err := exec.CommandContext(ctx, c.Args[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", c.Args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Refresh notifies n and reports whether it succeeded. Failures are logged.
func Refresh(ctx context.Context, n Notifier, path string) bool {
	if err := n.Notify(ctx, path); err != nil {
		slog.Warn("Editor refresh failed", "path", path, "error", err)
		return false
	}
	return true
}
