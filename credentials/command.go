package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandProvider resolves a reference by running argv with the reference
// appended and returning trimmed stdout.
func CommandProvider(argv ...string) SecretProvider {
	return func(ctx context.Context, ref string) (string, error) {
		if len(argv) == 0 {
			return "", errors.New("no command configured")
		}
		args := append(append([]string{}, argv[1:]...), ref)
		cmd := exec.CommandContext(ctx, argv[0], args...)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("%s %q: %s: %w", strings.Join(argv, " "), ref, strings.TrimSpace(stderr.String()), err)
		}
		return strings.TrimSpace(stdout.String()), nil
	}
}

// WithOnePassword registers an "op" template function backed by `op read`.
func WithOnePassword() ResolverOption {
	return WithProvider("op", CommandProvider("op", "read"))
}

// WithPass registers a "pass" template function backed by `pass show`.
func WithPass() ResolverOption {
	return WithProvider("pass", CommandProvider("pass", "show"))
}
