package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"lumina-be/pkg/events"
	pktNats "lumina-be/pkg/nats"

	"github.com/fatih/color"
)

// alertwatch prints every supervisor alert the server forwards to NATS.
func main() {
	url := flag.String("nats", os.Getenv("NATS_URL"), "NATS server URL")
	flag.Parse()

	if *url == "" {
		color.Red("No NATS URL: pass -nats or set NATS_URL")
		os.Exit(1)
	}

	sub, err := pktNats.NewSubscriber(*url)
	if err != nil {
		color.Red("Failed to connect: %v", err)
		os.Exit(1)
	}
	defer sub.Close()

	err = sub.Subscribe(events.SupervisorAlert, printAlert, func(subject string, err error) {
		color.Red("Bad message on %s: %v", subject, err)
	})
	if err != nil {
		color.Red("Failed to subscribe: %v", err)
		os.Exit(1)
	}

	color.Cyan("Watching %s on %s", pktNats.Subject(events.SupervisorAlert), *url)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func printAlert(_ context.Context, ev events.Event) error {
	p := ev.Payload()
	ts := ev.Timestamp().Format("15:04:05")
	if p["type"] == "SEVERE_ALERT" {
		color.Red("%s [%v] group %v: %v", ts, p["type"], p["groupId"], p["message"])
		if iv, ok := p["intervention"]; ok {
			color.Magenta("         said: %v", iv)
		}
		return nil
	}
	color.Yellow("%s [%v] %v", ts, p["type"], p["message"])
	return nil
}
