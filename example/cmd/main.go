package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/go-kit/kit/log"

	security "github.com/zerobuzz/hackage-security"
	"github.com/zerobuzz/hackage-security/tuf"
)

func main() {
	var (
		baseDir    = flag.String("base-directory", "./", "directory holding the local trusted cache")
		seedDir    = flag.String("seed", "", "directory with a bootstrap root.json to seed the cache on first run")
		mirror     = flag.String("mirror", "https://hackage.haskell.org", "package index mirror base URL")
		offline    = flag.Bool("offline", false, "never touch the network; serve only from the local cache")
		poll       = flag.Bool("poll", false, "start a background polling loop instead of checking once")
		pkgName    = flag.String("package", "", "package name to download after a successful check, e.g. acme")
		pkgVersion = flag.String("package-version", "", "package version to download, e.g. 1.2.0")
	)
	flag.Parse()

	logger := log.NewLogfmtLogger(os.Stderr)

	cfg := security.Config{
		LocalRepoPath: filepath.Join(*baseDir, "repo"),
		Mirrors:       []string{*mirror},
		Offline:       *offline,
		Logger:        logger,
	}

	notify := security.WantNotifications(func(events security.Events) {
		for _, e := range events.History {
			logger.Log("event", "poll", "description", e.Description, "is_error", e.Type == security.ErrorType)
		}
	})

	client, err := security.Bootstrap(cfg, *seedDir, notify)
	if err != nil {
		logger.Log("event", "bootstrap_failed", "err", err)
		os.Exit(security.Classify(err))
	}

	if *poll {
		runPolling(client)
		return
	}

	result, err := client.CheckForUpdates()
	if err != nil {
		logger.Log("event", "check_failed", "err", err)
		os.Exit(security.Classify(err))
	}
	fmt.Printf("timestamp=%d snapshot=%d mirrors=%d index_changed=%v\n",
		result.TimestampVersion, result.SnapshotVersion, result.MirrorsVersion, result.IndexChanged)

	if *pkgName != "" && *pkgVersion != "" {
		pkgID := tuf.PackageID{Name: *pkgName, Version: *pkgVersion}
		targetPath := fmt.Sprintf("%s/%s/%s-%s.tar.gz", *pkgName, *pkgVersion, *pkgName, *pkgVersion)
		raw, err := client.DownloadPackage(result.Targets, pkgID, targetPath)
		if err != nil {
			logger.Log("event", "download_failed", "package", targetPath, "err", err)
			os.Exit(security.Classify(err))
		}
		fmt.Printf("downloaded %s: %d verified bytes\n", targetPath, len(raw))
	}
}

func runPolling(client *security.Client) {
	if err := client.StartPolling(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(security.ExitMisuse)
	}
	defer client.StopPolling()

	fmt.Println("polling, Ctrl-C to stop")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
}
