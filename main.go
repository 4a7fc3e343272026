package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"p2pci/commands"
	"p2pci/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// parseNumbers parses a comma separated list of document numbers.
func parseNumbers(list string) []int {
	var out []int
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			log.Fatalf("Invalid document number %q", s)
		}
		out = append(out, n)
	}
	return out
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	force := initCmd.Bool("force", false, "Overwrite an existing config file")
	registerGlobalFlags(initCmd)

	indexCmd := flag.NewFlagSet("index", flag.ExitOnError)
	registerGlobalFlags(indexCmd)

	peerCmd := flag.NewFlagSet("peer", flag.ExitOnError)
	fetch := peerCmd.String("fetch", "", "Comma separated document numbers to download")
	registerGlobalFlags(peerCmd)

	publishCmd := flag.NewFlagSet("publish", flag.ExitOnError)
	number := publishCmd.Int("number", -1, "Document number")
	title := publishCmd.String("title", "", "Document title")
	file := publishCmd.String("file", "", "File holding the document body")
	registerGlobalFlags(publishCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	infoHost := infoCmd.String("host", "", "Only list documents offered by this host")
	registerGlobalFlags(infoCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInit(ctx, config.NewEmptyConfig(*configFile), *force)
	case "index":
		indexCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunIndex(ctx, loadConfig(*configFile))
	case "peer":
		peerCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunPeer(ctx, loadConfig(*configFile), parseNumbers(*fetch))
	case "publish":
		publishCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunPublish(ctx, loadConfig(*configFile), *number, *title, *file)
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile), *infoHost)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
