package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/journey.report/internal/api"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/version"
)

const commandTimeout = 10 * time.Second

// runCommand dispatches a CLI subcommand. Client commands talk to the
// server at -server.
func runCommand(ctx context.Context, command string, args []string, out io.Writer) error {
	return dispatch(ctx, api.NewClient(*serverURL, nil), command, args, out)
}

func dispatch(ctx context.Context, client *api.Client, command string, args []string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case "migrate":
		return db.RunMigrateCommand(args, *dbPath, out)
	case "version":
		fmt.Fprintf(out, "journey %s\n", version.String())
		return nil
	case "simulate":
		j, err := client.Simulate(ctx)
		if err != nil {
			return err
		}
		printJourney(out, *j)
		return nil
	case "status":
		s, err := client.Status(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "debug":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: journey debug on|off")
		}
		on, err := client.SetDebugMode(ctx, args[0] == "on")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "debug mode: %v\n", on)
		return nil
	case "pending":
		js, err := client.Pending(ctx)
		if err != nil {
			return err
		}
		if len(js) == 0 {
			fmt.Fprintln(out, "no pending journeys")
		}
		for _, j := range js {
			printJourney(out, j)
		}
		return nil
	case "sent":
		if len(args) != 1 {
			return fmt.Errorf("usage: journey sent <id>")
		}
		j, err := client.MarkSent(ctx, args[0])
		if err != nil {
			return err
		}
		printJourney(out, *j)
		return nil
	case "help":
		printUsage()
		return nil
	}
	return fmt.Errorf("unknown command %q (see 'journey help')", command)
}

func printJourney(out io.Writer, j db.Journey) {
	departed := time.UnixMilli(j.TimeDeparture).Format("2006-01-02 15:04")
	sim := ""
	if j.Simulated {
		sim = " (simulated)"
	}
	fmt.Fprintf(out, "%s  %s  %-16s %3d min %7.2f km  %s%s\n",
		j.ID, departed, j.TransportType, j.DurationMinutes, j.DistanceKm, j.Status, sim)
}
