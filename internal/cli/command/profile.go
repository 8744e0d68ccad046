package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/sessionguard/internal/container"
	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/core/service"
)

// ProfileCommand returns the profile subcommand group.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Read and write user profiles through the profile cache",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Get a profile",
				ArgsUsage: "SUBJECT_ID",
				Flags:     []cli.Flag{timeoutFlag()},
				Action:    profileGet,
			},
			{
				Name:      "create",
				Usage:     "Create a profile with defaults, or return the existing one",
				ArgsUsage: "SUBJECT_ID",
				Flags: []cli.Flag{
					timeoutFlag(),
					&cli.StringSliceFlag{
						Name:    "field",
						Aliases: []string{"f"},
						Usage:   "Seed field as KEY=VALUE (repeatable)",
					},
				},
				Action: profileCreate,
			},
			{
				Name:      "update",
				Usage:     "Apply a partial update",
				ArgsUsage: "SUBJECT_ID",
				Flags: []cli.Flag{
					timeoutFlag(),
					&cli.StringSliceFlag{
						Name:    "set",
						Aliases: []string{"s"},
						Usage:   "Field to set as KEY=VALUE (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "unset",
						Usage: "Field to remove (repeatable)",
					},
				},
				Action: profileUpdate,
			},
		},
	}
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Value: DefaultCallTimeout,
		Usage: "Upper bound for the operation",
	}
}

func subjectArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("SUBJECT_ID is required")
	}
	subject := c.Args().First()
	if err := domain.ValidateSubjectID(subject); err != nil {
		return "", err
	}
	return subject, nil
}

// withProfiles resolves the profile store and runs fn under the command timeout.
func withProfiles(c *cli.Context, fn func(ctx context.Context, subject string, store service.ProfileStore) (*domain.UserProfile, error)) error {
	subject, err := subjectArg(c)
	if err != nil {
		return err
	}
	e, err := getEnv(c)
	if err != nil {
		return err
	}
	store, err := container.ResolveAs[service.ProfileStore](e.container, container.IProfileStore)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	p, err := fn(ctx, subject, store)
	if err != nil {
		return err
	}
	return e.render(newProfileView(p))
}

func profileGet(c *cli.Context) error {
	return withProfiles(c, func(ctx context.Context, subject string, store service.ProfileStore) (*domain.UserProfile, error) {
		return store.Get(ctx, subject)
	})
}

func profileCreate(c *cli.Context) error {
	seed, err := parseAssignments(c.StringSlice("field"))
	if err != nil {
		return err
	}
	return withProfiles(c, func(ctx context.Context, subject string, store service.ProfileStore) (*domain.UserProfile, error) {
		return store.Create(ctx, subject, seed)
	})
}

func profileUpdate(c *cli.Context) error {
	set, err := parseAssignments(c.StringSlice("set"))
	if err != nil {
		return err
	}
	patch := domain.ProfilePatch(set)
	if patch == nil {
		patch = make(domain.ProfilePatch)
	}
	for _, k := range c.StringSlice("unset") {
		if _, dup := patch[k]; dup {
			return fmt.Errorf("field %q is both set and unset", k)
		}
		patch[k] = nil
	}
	if err := patch.Validate(); err != nil {
		return err
	}
	return withProfiles(c, func(ctx context.Context, subject string, store service.ProfileStore) (*domain.UserProfile, error) {
		return store.Update(ctx, subject, patch)
	})
}

// parseAssignments parses KEY=VALUE pairs. Values are read as YAML scalars
// so numbers and booleans keep their type; an empty value stays a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want KEY=VALUE", pair)
		}
		out[key] = parseScalar(raw)
	}
	return out, nil
}

func parseScalar(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	switch v.(type) {
	case string, bool, int, float64:
		return v
	default:
		return raw
	}
}
