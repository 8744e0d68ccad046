package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionguard/internal/cli/output"
	"github.com/yndnr/sessionguard/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			return render(c, versionView(buildinfo.Get()))
		},
	}
}

type versionView buildinfo.Info

// Table implements output.Tabular.
func (v versionView) Table() *output.Table {
	return output.NewTable("FIELD", "VALUE").
		AddRow("version", v.Version).
		AddRow("commit", v.Commit).
		AddRow("build_time", v.BuildTime).
		AddRow("go_version", v.GoVersion).
		AddRow("platform", v.Platform)
}
