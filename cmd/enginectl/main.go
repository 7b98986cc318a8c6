// Command enginectl is an operator tool for the workflow engine: it
// bootstraps the same storage connection the server/scheduler/worker
// processes use and calls directly into the store, so a job-status lookup
// or an awakeable resolve/reject from the command line goes through the
// exact same invariants (the PENDING check, the reject-empty-error
// validation) as the HTTP control plane.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/platform/config"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/logger"
	"github.com/lprior-repo/nuoc-sub001/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	group, cmd := os.Args[1], os.Args[2]
	args := os.Args[3:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	db, err := store.Open(cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}

	switch group {
	case "job":
		runJob(db, cmd, args)
	case "awakeable":
		runAwakeable(db, cmd, args)
	case "timeout":
		runTimeout(db, cmd, args)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `enginectl <group> <command> [flags]

groups:
  job status --id=<uuid>
  awakeable resolve --id=<id> --payload=<json>
  awakeable reject --id=<id> --error=<message>
  timeout sweep`)
}

func runJob(db *store.Store, cmd string, args []string) {
	if cmd != "status" {
		usage()
		os.Exit(1)
	}
	fs := flag.NewFlagSet("job status", flag.ExitOnError)
	id := fs.String("id", "", "job id")
	fs.Parse(args)

	jobID, err := uuid.Parse(*id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid job id:", err)
		os.Exit(1)
	}
	job, err := db.GetJob(jobID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get job:", err)
		os.Exit(1)
	}
	tasks, err := db.ListTasks(jobID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list tasks:", err)
		os.Exit(1)
	}
	fmt.Printf("job %s: %s\n", job.ID, job.Status)
	if job.CompletionResult != nil {
		fmt.Printf("  completion: %s\n", *job.CompletionResult)
	}
	for _, t := range tasks {
		fmt.Printf("  task %-24s %-12s attempt=%d retries=%d\n", t.Name, t.Status, t.Attempt, t.RetryCount)
	}
}

func runAwakeable(db *store.Store, cmd string, args []string) {
	switch cmd {
	case "resolve":
		fs := flag.NewFlagSet("awakeable resolve", flag.ExitOnError)
		id := fs.String("id", "", "awakeable id")
		payload := fs.String("payload", "", "JSON payload")
		fs.Parse(args)

		row, err := db.ResolveAwakeable(*id, []byte(*payload))
		if err != nil {
			fmt.Fprintln(os.Stderr, "resolve awakeable:", err)
			os.Exit(1)
		}
		fmt.Printf("awakeable %s: %s\n", row.ID, row.Status)
	case "reject":
		fs := flag.NewFlagSet("awakeable reject", flag.ExitOnError)
		id := fs.String("id", "", "awakeable id")
		errMsg := fs.String("error", "", "rejection reason")
		fs.Parse(args)

		row, err := db.RejectAwakeable(*id, *errMsg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reject awakeable:", err)
			os.Exit(1)
		}
		fmt.Printf("awakeable %s: %s\n", row.ID, row.Status)
	default:
		usage()
		os.Exit(1)
	}
}

func runTimeout(db *store.Store, cmd string, _ []string) {
	if cmd != "sweep" {
		usage()
		os.Exit(1)
	}
	n, err := db.SweepTimeouts()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep timeouts:", err)
		os.Exit(1)
	}
	fmt.Printf("swept %d timed-out awakeable(s)\n", n)
}
