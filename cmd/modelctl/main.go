// Command modelctl resolves, fetches and promotes tracked model runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/platform/env"
	"github.com/animus-labs/modelctl/internal/platform/requestid"
)

const (
	exitOK = iota
	exitFailure
	exitConfig
	exitNotFound
	exitArtifactMissing
	exitArtifactCorrupt
	exitInconsistent
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, newApp(os.Stdin, os.Stdout, os.Stderr), os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, a *app, args []string) int {
	defer a.close()

	id := env.String("MODELCTL_REQUEST_ID", "")
	if id == "" {
		var err error
		if id, err = requestid.New(); err != nil {
			fmt.Fprintf(a.stderr, "modelctl: request id: %v\n", err)
			return exitFailure
		}
	}
	ctx = requestid.WithID(ctx, id)

	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.stderr, "modelctl: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// errInvariantViolated is returned by check when the promotion tags of an
// experiment are inconsistent.
var errInvariantViolated = errors.New("promotion invariants violated")

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage), errors.Is(err, domain.ErrConfiguration):
		return exitConfig
	case errors.Is(err, domain.ErrPartialPromote), errors.Is(err, errInvariantViolated):
		return exitInconsistent
	case errors.Is(err, domain.ErrArtifactCorrupt):
		return exitArtifactCorrupt
	case errors.Is(err, domain.ErrArtifactMissing):
		return exitArtifactMissing
	case errors.Is(err, domain.ErrNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}
