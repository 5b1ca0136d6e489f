package main

import (
	"flag"
	"fmt"
	"os"

	"lumina-be/internal/bootstrap"
	"lumina-be/internal/config"
	"lumina-be/internal/pkg/logger"
	"lumina-be/pkg/facilitation"

	"github.com/fatih/color"
)

func main() {
	path := flag.String("scenario", "cmd/simulate/scenarios/uniforms.yaml", "scenario file to replay")
	verbose := flag.Bool("v", false, "print session logs")
	flag.Parse()

	sc, err := LoadScenario(*path)
	if err != nil {
		color.Red("Failed to load scenario: %v", err)
		os.Exit(1)
	}

	cfg, err := bootstrap.SessionConfig(config.Load().Facilitation)
	if err != nil {
		color.Red("Invalid configuration: %v", err)
		os.Exit(1)
	}

	var log logger.ILogger = logger.NewNopLogger()
	if *verbose {
		log = logger.NewZapLogger("logs/simulate.log", false)
	}

	color.Cyan("Replaying %q: %d participants, %d cycles", sc.Name, len(sc.Participants), len(sc.Cycles))

	lastCycle := 0
	outputs, err := Run(sc, cfg, facilitation.Dependencies{Logger: log}, func(o Output) {
		if o.Cycle != lastCycle {
			lastCycle = o.Cycle
			color.Yellow("\n-- cycle %d --", o.Cycle)
		}
		printOutput(o)
	})
	if err != nil {
		color.Red("\nSimulation stopped: %v", err)
		os.Exit(1)
	}

	alerts := 0
	for _, o := range outputs {
		if o.Channel == "supervisor" {
			alerts++
		}
	}
	color.Green("\nDone: %d messages, %d supervisor alerts", len(outputs), alerts)
}

func printOutput(o Output) {
	switch {
	case o.Channel == "supervisor":
		color.Red("  [supervisor] %s: %s", o.Kind, o.Text)
	case o.Kind == "audio":
		color.Magenta("  [group] audio: %q", o.Text)
	case o.Kind == facilitation.MessageSuggestion:
		color.Blue("  [group] suggestion: %s", o.Text)
	default:
		fmt.Printf("  [group] %s: %s\n", o.Kind, o.Text)
	}
}
