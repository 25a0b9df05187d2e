package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/env"
)

// BootScript drives every directly wired output low before the controller starts.
// Relay outputs sit behind the I2C expander and come up as inputs on power-on.
func BootScript(cfg *config.Config) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Blind controller GPIO pin configuration at boot", "")

	write := func(label string, pin int) {
		lines = append(lines, fmt.Sprintf("# %s", label))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn dl", pin))
		lines = append(lines, "")
	}

	for _, b := range cfg.Blinds {
		if b.SpeedGPIO != nil {
			write(fmt.Sprintf("blind %d speed", b.ID), *b.SpeedGPIO)
		}
	}
	if cfg.StatusLEDGPIO != nil {
		write("status_led", *cfg.StatusLEDGPIO)
	}

	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript() error {
	return os.WriteFile(env.Cfg.BootScriptFilePath, []byte(BootScript(env.Cfg)), 0755)
}

func InstallStartupService() error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, env.Cfg.BootScriptFilePath)

	return os.WriteFile(env.Cfg.OSServicePath, []byte(unitContents), 0644)
}

func RunStartupScript() error {
	cmd := exec.Command("/bin/bash", env.Cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// InstallControllerService writes the main unit, ordered after the GPIO unit.
func InstallControllerService(user, workdir, execCmd string) error {
	gpioUnitName := filepath.Base(env.Cfg.OSServicePath)

	unit := fmt.Sprintf(`[Unit]
Description=Blind controller main service
After=%s network-online.target
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, user, workdir, execCmd)

	return os.WriteFile(env.Cfg.MainServicePath, []byte(unit), 0644)
}
