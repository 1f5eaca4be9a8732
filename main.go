// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/partyplay/partyplay/internal/app"
	"github.com/partyplay/partyplay/internal/config"
	"github.com/partyplay/partyplay/internal/storage"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("PartyPlay v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		return
	}

	switch args[0] {
	case "host":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: host command requires a data directory")
			fmt.Fprintln(os.Stderr, "Usage: partyplay host <data-dir>")
			os.Exit(1)
		}
		run(args[1], "")

	case "join":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: join command requires a data directory and a QR payload")
			fmt.Fprintln(os.Stderr, "Usage: partyplay join <data-dir> <payload>")
			os.Exit(1)
		}
		run(args[1], args[2])

	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: history command requires a data directory")
			os.Exit(1)
		}
		showHistory(args[1])

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func run(dataDir, joinPayload string) {
	cfgPath := filepath.Join(dataDir, "config.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		log.Printf("Created default config: %s", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		DataDir:     dataDir,
		CfgPath:     cfgPath,
		Cfg:         cfg,
		JoinPayload: joinPayload,
	}); err != nil {
		log.Fatalf("run: %v", err)
	}
}

func showHistory(dataDir string) {
	db, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()

	parties, err := db.RecentParties(20)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	if len(parties) == 0 {
		fmt.Println("No parties yet.")
		return
	}
	for _, p := range parties {
		status := "ongoing"
		if p.EndedAt != nil {
			status = p.EndedAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-10s %-8s %-20s started %s, ended %s\n",
			p.SessionID, p.Role, p.HostName, p.StartedAt.Format("2006-01-02 15:04"), status)
	}
}

func showUsage() {
	fmt.Println(`PartyPlay — shared music queue for parties

Usage:
  partyplay host <data-dir>             Host a party
  partyplay join <data-dir> <payload>   Join a party with a scanned QR payload
  partyplay history <data-dir>          Show past parties

Flags:
  -h         Show help
  -version   Show version`)
}
