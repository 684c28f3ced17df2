package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/0tSystemsPublicRepos/logweaver/internal/api"
	"github.com/0tSystemsPublicRepos/logweaver/internal/database"
	"github.com/0tSystemsPublicRepos/logweaver/internal/logging"
)

var eventFlags struct {
	kind    string
	service string
	peer    string
	since   time.Duration
	limit   int
}

// ============== SERVICE TABLE ==============

func listServices(cmd *cobra.Command, args []string) error {
	cfg, profiles, err := loadConfig()
	if err != nil {
		return err
	}

	source := cfg.Source
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("Services from %s\n\n", source)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tGREETING\tCLOSE AFTER GREETING\tREACTIONS")
	for _, s := range api.DescribeServices(cfg.BindAddress, profiles) {
		reactions := strings.Join(s.Reactions, "; ")
		if reactions == "" {
			reactions = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d bytes\t%t\t%s\n", s.Name, s.Address, s.GreetingBytes, s.CloseAfterGreeting, reactions)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d services\n", len(profiles))
	return nil
}

// ============== EVENT STORE ==============

func openStore() (database.Provider, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !database.Enabled(cfg.Store) {
		return nil, fmt.Errorf("event store is disabled (store.type is %q)", cfg.Store.Type)
	}
	return database.Open(cfg.Store)
}

func listEvents(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	filter := database.EventFilter{
		Service: eventFlags.service,
		Peer:    eventFlags.peer,
		Limit:   eventFlags.limit,
	}
	if eventFlags.kind != "" {
		kind, err := logging.ParseKind(strings.ToUpper(eventFlags.kind))
		if err != nil {
			return err
		}
		filter.Kind = kind
	}
	if eventFlags.since > 0 {
		filter.Since = time.Now().Add(-eventFlags.since)
	}

	events, err := store.ListEvents(filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tKIND\tSERVICE\tPEER\tBYTES\tTEXT")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			ev.ID, ev.Time.Local().Format(logging.TimestampLayout), ev.Kind, ev.Service, ev.Peer, ev.Bytes, ev.Text)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d events\n", len(events))
	return nil
}

func eventStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	kinds, err := store.EventStats()
	if err != nil {
		return err
	}
	services, err := store.ServiceStats()
	if err != nil {
		return err
	}

	fmt.Println("\nEvent Statistics")
	fmt.Println("================")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	var total int64
	for _, k := range kinds {
		fmt.Fprintf(w, "%s:\t%d\n", k.Kind, k.Count)
		total += k.Count
	}
	fmt.Fprintf(w, "Total:\t%d\n", total)
	w.Flush()

	fmt.Println("\nPer Service")
	fmt.Println("===========")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCONNECTIONS\tDATA\tBYTES\tERRORS\tLAST SEEN")
	for _, s := range services {
		last := "-"
		if !s.LastSeen.IsZero() {
			last = s.LastSeen.Local().Format(logging.TimestampLayout)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Service, s.Connections, s.DataEvents, s.Bytes, s.Errors, last)
	}
	w.Flush()
	return nil
}
