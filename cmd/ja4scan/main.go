package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/ccie14019/shadow-ai-signatures/internal/logger"
	"github.com/ccie14019/shadow-ai-signatures/internal/scan"
	"github.com/ccie14019/shadow-ai-signatures/internal/signature"
)

const defaultDatabase = "signatures/signature_database.csv"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ja4scan <plan.yaml | capture.pcap ...>")
		fmt.Fprintln(os.Stderr, "  SIGNATURE_DB  signature database CSV (default signatures/signature_database.csv)")
		fmt.Fprintln(os.Stderr, "  LOG_DIR       detection log directory (default logs)")
		fmt.Fprintln(os.Stderr, "  WORKERS       parallel capture workers")
		fmt.Fprintln(os.Stderr, "  PORT          TCP port filter (default 443, 0 for all)")
		os.Exit(2)
	}

	dbPath := os.Getenv("SIGNATURE_DB")
	if dbPath == "" {
		dbPath = defaultDatabase
	}

	store, err := signature.LoadFile(dbPath)
	if err != nil {
		log.Fatalf("Failed to load signature database: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Stdout = true
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		logCfg.LogDir = dir
	}
	l, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer l.Close()

	cfg := scan.DefaultConfig()
	if workers := os.Getenv("WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n < 1 {
			log.Fatalf("Invalid WORKERS value %q", workers)
		}
		cfg.Workers = n
	}
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			log.Fatalf("Invalid PORT value %q", port)
		}
		cfg.Port = uint16(n)
	}

	runner := scan.New(cfg, store, l)

	arg := os.Args[1]
	if strings.HasSuffix(arg, ".yaml") || strings.HasSuffix(arg, ".yml") {
		runCampaign(runner, store, arg, dbPath)
		return
	}

	code := scanCaptures(runner, os.Args[1:])
	if err := l.Close(); err != nil {
		log.Printf("Error closing logger: %v", err)
	}
	os.Exit(code)
}

// runCampaign executes a verification plan and writes the updated
// signature database back out.
func runCampaign(runner *scan.Runner, store *signature.Store, planPath, dbPath string) {
	plan, err := scan.LoadPlan(planPath)
	if err != nil {
		log.Fatalf("Failed to load plan: %v", err)
	}

	report, err := runner.RunPlan(plan)
	if err != nil {
		log.Fatalf("Campaign failed: %v", err)
	}

	for _, tr := range report.Targets {
		status := "consistent"
		if !tr.Consistent {
			status = "INCONSISTENT"
		}
		log.Printf("%s %s: %d run(s), %d unique signature(s), %s",
			tr.Framework, tr.Version, tr.Runs, len(tr.Signatures), status)
		for _, e := range tr.Errors {
			log.Printf("  error: %s", e)
		}
	}

	if err := store.SaveFile(dbPath); err != nil {
		log.Fatalf("Failed to save signature database: %v", err)
	}
	log.Printf("Signature database written to %s", dbPath)
}

// scanCaptures classifies every session in the given captures against
// the loaded database.
func scanCaptures(runner *scan.Runner, paths []string) int {
	exitCode := 0
	for _, path := range paths {
		results, err := runner.ScanFile(path)
		if err != nil {
			log.Printf("%s: %v", path, err)
			exitCode = 1
			continue
		}
		for _, res := range results {
			if res.Err != nil {
				log.Printf("%s %s: %v", path, res.Session, res.Err)
				continue
			}
			log.Printf("%s %s: %s -> %s (%.2f) %s",
				path, res.Session, res.Signature,
				res.Result.Classification, res.Result.Confidence, res.Result.Reason)
		}
	}
	return exitCode
}
