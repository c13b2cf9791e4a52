package cli_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/internal/cli"
)

func execute(t *testing.T, args ...string) (string, int, error) {
	t.Helper()
	exitCode := 0
	cmd := cli.NewRootCmd(&exitCode)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), exitCode, err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "application.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
database:
  type: sqlite
  path: %s
logging:
  level: ERROR
`, filepath.Join(dir, "batch.db"))), 0o600))
	return dir, cfgPath
}

func TestJobsCommand(t *testing.T) {
	out, _, err := execute(t, "jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{"multiThreadJob", "parallelStepJob", "parquetExportJob", "sequentialImportJob"},
		strings.Fields(out))
}

func TestRunCommand_ExitCodes(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	good := filepath.Join(dir, "good.csv")
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(good, []byte("1001,10.00,2024-01-01 08:00:00\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("1001,ten,2024-01-01 08:00:00\n"), 0o600))

	out, code, err := execute(t, "run", "multiThreadJob", "inputFlatFile="+good, "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "COMPLETED")

	_, code, err = execute(t, "run", "multiThreadJob", "inputFlatFile="+bad, "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRunCommand_LaunchErrors(t *testing.T) {
	_, cfgPath := writeConfig(t)

	_, code, err := execute(t, "run", "multiThreadJob", "notAParameter", "--config", cfgPath)
	assert.Error(t, err)
	assert.Equal(t, cli.ExitLaunchError, code)

	_, code, err = execute(t, "run", "noSuchJob", "--config", cfgPath)
	assert.Error(t, err)
	assert.Equal(t, cli.ExitLaunchError, code)

	_, _, err = execute(t, "run")
	assert.Error(t, err, "job name is required")
}

func TestMigrateCommand(t *testing.T) {
	_, cfgPath := writeConfig(t)
	out, _, err := execute(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied")
}
