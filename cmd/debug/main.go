package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/blinds-controller/db"
	"github.com/thatsimonsguy/blinds-controller/internal/config"
	"github.com/thatsimonsguy/blinds-controller/internal/env"
	"github.com/thatsimonsguy/blinds-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, configPath, command, user, workdir, execCmd string
	var blindID, runtimeUp, runtimeDown int
	flag.StringVar(&dbPath, "db", "data/blinds.db", "Path to the SQLite cache file")
	flag.StringVar(&configPath, "config", "config.json", "Path to the controller config file")
	flag.StringVar(&command, "cmd", "", "Command to run: list-blinds, set-runtime, write-boot-script, install-service")
	flag.IntVar(&blindID, "blind", 0, "Blind ID for set-runtime")
	flag.IntVar(&runtimeUp, "up", 0, "Up runtime in ticks for set-runtime")
	flag.IntVar(&runtimeDown, "down", 0, "Down runtime in ticks for set-runtime")
	flag.StringVar(&user, "user", "pi", "Service user for install-service")
	flag.StringVar(&workdir, "workdir", "/home/pi/blinds-controller", "Working directory for install-service")
	flag.StringVar(&execCmd, "exec", "/usr/local/bin/blinds-controller -config-file config.json", "Controller command for install-service")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of blinds-debug:")
		fmt.Println("  -db string\tPath to the SQLite cache file (default 'data/blinds.db')")
		fmt.Println("  -config string\tPath to the controller config file (default 'config.json')")
		fmt.Println("  -cmd string\tCommand to run: list-blinds, set-runtime, write-boot-script, install-service")
		fmt.Println("  -blind int\tBlind ID for set-runtime")
		fmt.Println("  -up int\tUp runtime in ticks for set-runtime")
		fmt.Println("  -down int\tDown runtime in ticks for set-runtime")
		fmt.Println("  -user, -workdir, -exec\tMain service settings for install-service")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "list-blinds":
		err = db.ListBlindsCLI(dbPath, os.Stdout)
	case "set-runtime":
		if blindID == 0 {
			fmt.Println("Error: blind ID is required")
			os.Exit(1)
		}
		err = db.SetRuntimeCLI(dbPath, blindID, runtimeUp, runtimeDown)
	case "write-boot-script":
		loadConfig(configPath)
		err = startup.WriteStartupScript()
		if err == nil {
			err = startup.InstallStartupService()
		}
	case "install-service":
		loadConfig(configPath)
		err = startup.InstallControllerService(user, workdir, execCmd)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

func loadConfig(path string) {
	cfg := config.LoadFile(path)
	env.Cfg = &cfg
}
