package command

import (
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/sessionguard/internal/cli/output"
	"github.com/yndnr/sessionguard/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Load and verify the configuration",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	flat := flattenConfig(config.Sanitize(cfg))

	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		return render(c, output.KeyValues(flat))
	}
	return render(c, maps.Unflatten(flat, "."))
}

func configValidate(c *cli.Context) error {
	if _, _, err := loadConfig(c); err != nil {
		return err
	}
	return render(c, map[string]any{"valid": true, "config": c.String("config")})
}

// flattenConfig maps every leaf of cfg to its dotted koanf key.
func flattenConfig(cfg *config.Config) map[string]any {
	out := make(map[string]any)
	flattenValue(reflect.ValueOf(cfg).Elem(), "", out)
	return out
}

func flattenValue(v reflect.Value, prefix string, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := v.Field(i)
		switch {
		case fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}):
			flattenValue(fv, key, out)
		case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Struct:
			items := make([]any, fv.Len())
			for j := 0; j < fv.Len(); j++ {
				item := make(map[string]any)
				flattenValue(fv.Index(j), "", item)
				items[j] = maps.Unflatten(item, ".")
			}
			out[key] = items
		default:
			out[key] = leafValue(fv)
		}
	}
}

func leafValue(v reflect.Value) any {
	switch x := v.Interface().(type) {
	case time.Duration:
		return x.String()
	case string:
		return strings.TrimSpace(x)
	default:
		return x
	}
}
