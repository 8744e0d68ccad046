package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const staticConfig = `
identity:
  static:
    - credential: tok-alice
      subject: alice
      claims:
        email: alice@example.com
        name: Alice
log:
  level: error
`

// writeConfig writes a YAML config into a fresh temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// badgerConfig returns staticConfig with the badger engine rooted at dir.
func badgerConfig(dir string) string {
	return staticConfig + `
storage:
  engine: badger
  data_dir: ` + dir + "\n"
}

// run executes the app with args and returns stdout and the error.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"sessionguard"}, args...))
	return stdout.String(), err
}

// decodeJSON decodes every JSON value written to out.
func decodeJSON(t *testing.T, out string) []map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(out))
	var values []map[string]any
	for {
		var v map[string]any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return values
		}
		if err != nil {
			t.Fatalf("decode output: %v\n%s", err, out)
		}
		values = append(values, v)
	}
}
