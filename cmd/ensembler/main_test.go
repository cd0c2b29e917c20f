package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, months int) string {
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
name: cli
frequency: monthly
input:
  path: panel.csv
models:
  - name: naive
    kind: seasonal_naive
  - name: knn
    kind: knn
storage:
  root: %s
`, dir)
	require.Nil(t, os.WriteFile(filepath.Join(dir, "ensembler.yaml"), []byte(cfg), 0o600))

	var sb strings.Builder
	sb.WriteString("entity,time,target\n")
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		fmt.Fprintf(&sb, "a,%s,%d\n", start.AddDate(0, i, 0).Format(time.DateOnly), i%12)
	}
	require.Nil(t, os.WriteFile(filepath.Join(dir, "panel.csv"), []byte(sb.String()), 0o600))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := writeFixture(t, 0)
	out, err := execute(t, "validate", "--log-level", "error", "--dotenv", filepath.Join(dir, ".env"), "--config", filepath.Join(dir, "ensembler.yaml"))
	require.Nil(t, err)
	assert.Contains(t, out, "monthly")
	assert.Contains(t, out, "naive (seasonal_naive)")
	assert.Contains(t, out, "knn (knn)")

	_, err = execute(t, "validate", "--log-level", "error", "--config", filepath.Join(dir, "missing.yaml"))
	assert.NotNil(t, err)

	_, err = execute(t, "validate", "--log-level", "loud", "--config", filepath.Join(dir, "ensembler.yaml"))
	assert.NotNil(t, err)
}

func TestSplitsCommand(t *testing.T) {
	dir := writeFixture(t, 24)
	out, err := execute(t, "splits", "--log-level", "error", "--dotenv", filepath.Join(dir, ".env"), "--config", filepath.Join(dir, "ensembler.yaml"))
	require.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "fold"))
	last := strings.Fields(lines[3])
	assert.Equal(t, []string{"2", "2023-09-01", "2023-10-01", "2023-12-01", "21", "3"}, last)
}
