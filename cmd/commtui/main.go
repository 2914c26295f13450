package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/lifelink/commsync/internal/daemon"
	"github.com/lifelink/commsync/internal/profile"
	"github.com/lifelink/commsync/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// The messaging core runs in-process; fx owns its lifecycle while the
	// terminal UI owns the foreground.
	var core *daemon.Core
	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName}),
		fx.Populate(&core),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "start core: %v\n", err)
		os.Exit(1)
	}

	ui := tui.NewApp(core, profileName)
	runErr := ui.Run()
	ui.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "stop core: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
