package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/pidfile"
	"github.com/jedisct1/dlog"
)

const (
	AppVersion            = "0.3.1"
	DefaultConfigFileName = "dkim-scanner.toml"
)

type App struct {
	job Job
}

func main() {
	dlog.Init("dkim-scanner", dlog.SeverityNotice, "DAEMON")

	version := flag.Bool("version", false, "Print the version and exit")
	configFile := flag.String("config", DefaultConfigFileName, "Path to the configuration file")
	domainsFile := flag.String("domains", "", "Path to the domain list (overrides the configuration file)")
	dryRun := flag.Bool("dry-run", false, "Scan and write snapshots without publishing to the registry")
	listSelectors := flag.Bool("list-selectors", false, "Print the built-in selector catalog and exit")
	pidFile := flag.String("pidfile", "", "Store the PID into a file")
	flag.Parse()

	if *version {
		fmt.Println(AppVersion)
		os.Exit(0)
	}
	if *listSelectors {
		fmt.Printf("# catalog %s\n", SelectorCatalogVersion)
		for _, selector := range DefaultSelectors {
			fmt.Println(selector)
		}
		os.Exit(0)
	}

	app := &App{}
	if err := ConfigLoad(&app.job, *configFile, *domainsFile, *dryRun); err != nil {
		dlog.Fatal(err)
	}
	dlog.Noticef("dkim-scanner %s", AppVersion)
	if len(*pidFile) > 0 {
		pidfile.SetPidfilePath(*pidFile)
		if err := pidfile.Write(); err != nil {
			dlog.Warnf("Unable to write the PID file: [%v]", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	summary := app.job.Run(ctx)
	stop()
	summary.Report()
	if pidFilePath := pidfile.GetPidfilePath(); len(pidFilePath) > 1 {
		os.Remove(pidFilePath)
	}
	if summary.PublishFailed > 0 {
		os.Exit(1)
	}
}
