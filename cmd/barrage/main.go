package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"barrage/internal/app"
	"barrage/internal/clock"
	"barrage/internal/config"
	"barrage/internal/fault"
)

// main starts the meteor event service from a file or directory config source.
// Params: CLI flags (--config-file or --config-dir).
// Returns: exit code 2 for configuration problems, 1 for any other failure.
func main() {
	var (
		configFile = flag.String("config-file", "", "path to one TOML config file")
		configDir  = flag.String("config-dir", "", "path to directory with TOML config fragments")
	)
	flag.Parse()

	source, err := config.FromCLI(*configFile, *configDir)
	if err != nil {
		exit("invalid config source", fault.Mark(fault.Config, err))
	}

	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		exit("service init failed", err)
	}

	if err := service.Run(context.Background()); err != nil {
		exit("service run failed", err)
	}
}

func exit(prefix string, err error) {
	_, _ = fmt.Fprintln(os.Stderr, prefix+":", err.Error())
	if fault.Is(err, fault.Config) {
		os.Exit(2)
	}
	os.Exit(1)
}
