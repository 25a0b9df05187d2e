package startup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/env"
)

func intPtr(v int) *int { return &v }

func testConfig(dir string) *config.Config {
	return &config.Config{
		Blinds: []config.Blind{
			{ID: 1, SpeedGPIO: intPtr(12)},
			{ID: 2},
			{ID: 3, SpeedGPIO: intPtr(13)},
		},
		StatusLEDGPIO:      intPtr(21),
		BootScriptFilePath: filepath.Join(dir, "blinds-gpio.sh"),
		OSServicePath:      filepath.Join(dir, "blinds-gpio.service"),
		MainServicePath:    filepath.Join(dir, "blinds-controller.service"),
	}
}

func TestBootScript(t *testing.T) {
	script := BootScript(testConfig(t.TempDir()))

	assert.Contains(t, script, "#!/bin/bash\n")
	assert.Contains(t, script, "# blind 1 speed\npinctrl set 12 op pn dl\n")
	assert.Contains(t, script, "# blind 3 speed\npinctrl set 13 op pn dl\n")
	assert.Contains(t, script, "# status_led\npinctrl set 21 op pn dl\n")
	assert.NotContains(t, script, "blind 2")
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	orig := env.Cfg
	env.Cfg = testConfig(dir)
	t.Cleanup(func() { env.Cfg = orig })

	require.NoError(t, WriteStartupScript())
	info, err := os.Stat(env.Cfg.BootScriptFilePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	require.NoError(t, InstallStartupService())
	unit, err := os.ReadFile(env.Cfg.OSServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(unit), "ExecStart="+env.Cfg.BootScriptFilePath)

	require.NoError(t, InstallControllerService("pi", "/home/pi/blinds", "/usr/local/bin/blinds-controller"))
	unit, err = os.ReadFile(env.Cfg.MainServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(unit), "Requires=blinds-gpio.service")
	assert.Contains(t, string(unit), "User=pi")
}
