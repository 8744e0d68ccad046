package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionguard/internal/container"
	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/core/service"
)

// DefaultCallTimeout bounds one validation from the CLI.
const DefaultCallTimeout = 30 * time.Second

// ValidateCommand returns the validate command.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a credential and print the resulting session state",
		ArgsUsage: "[CREDENTIAL]",
		Flags: []cli.Flag{
			credentialFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Value: DefaultCallTimeout,
				Usage: "Upper bound for the whole validation",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit with status 3 when the session is degraded",
			},
		},
		Action: validateAction,
	}
}

func credentialFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "credential",
		Usage:   "Credential to validate; keeps it out of the argument list",
		EnvVars: []string{"SESSIONGUARD_CREDENTIAL"},
	}
}

// credentialArg returns the positional credential or the --credential value.
func credentialArg(c *cli.Context) (domain.Credential, error) {
	if c.NArg() > 0 {
		return domain.Credential(c.Args().First()), nil
	}
	if v := c.String("credential"); v != "" {
		return domain.Credential(v), nil
	}
	return "", errors.New("credential is required")
}

func validateAction(c *cli.Context) error {
	cred, err := credentialArg(c)
	if err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	mgr, err := container.ResolveAs[service.AuthStateManager](e.container, container.IAuthStateManager)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	st := mgr.ValidateSession(ctx, cred)
	e.log.Debug("validation finished", "status", st.Status.String(), "seq", st.Seq)
	if err := e.render(newStateView(st)); err != nil {
		return err
	}
	return stateExit(st, c.Bool("strict"))
}

// stateExit turns a terminal state into the command result.
func stateExit(st domain.AuthState, strict bool) error {
	switch st.Status {
	case domain.StatusError:
		return &ExitError{Code: ExitSessionErr, Err: fmt.Errorf("session error: %s", st.Reason)}
	case domain.StatusDegraded:
		if strict {
			return &ExitError{Code: ExitDegraded, Err: fmt.Errorf("session degraded: %s", st.Reason)}
		}
	}
	return nil
}
