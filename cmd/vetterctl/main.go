// Command vetterctl is a thin demo harness around internal/engine: it
// wires a runtime Engine from environment configuration and drives it
// from the command line, one subcommand per spec §6 operation. It carries
// no business logic of its own — everything beyond flag/env parsing and
// result printing lives in internal/engine.
//
// Grounded on the teacher's cmd/worker/main.go bootstrap/shutdown idiom:
// env-var config, a cancellable root context, and SIGTERM/SIGINT handling
// that cancels that context. It does not wait for in-flight work to
// finish before exiting.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cascade/internal/config"
	"cascade/internal/engine"
	"cascade/internal/jobstore"
	"cascade/internal/ledger"
	"cascade/internal/queue"
)

// demoOwner is the account vetterctl charges against. A real deployment
// would authenticate a caller and look up their owner ID; this harness has
// no such layer, so it seeds one owner with a generous starting balance.
const demoOwner = "vetterctl"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	store := openJobStore(cfg)
	if closer, ok := store.(interface{ Close() }); ok {
		defer closer.Close()
	}

	credits := ledger.NewMemory()
	credits.Grant(demoOwner, 1_000_000)

	e := engine.New(cfg, credits, store)

	if cfg.DomainListPath != "" {
		if err := e.ReloadDomainLists(cfg.DomainListPath); err != nil {
			log.Fatalf("load domain lists from %s: %v", cfg.DomainListPath, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseQueue {
		q, err := queue.New(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("connect to queue: %v", err)
		}
		defer q.Close()
		e.UseQueue(q)
		log.Println("bulk submissions routed through the Redis-backed queue")
	}

	// 5-minute sweep interval is shorter than the domain cache's shortest
	// TTL so stale entries are evicted promptly without the goroutine
	// running often enough to contend with lookups.
	e.StartBackgroundSweep(ctx, 5*time.Minute)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		log.Println("shutdown signal received, cancelling in-flight work...")
		cancel()
	}()

	switch os.Args[1] {
	case "verify":
		runVerify(ctx, e)
	case "bulk":
		runBulk(ctx, e)
	case "status":
		runStatus(ctx, e)
	case "cancel":
		runCancel(ctx, e)
	case "worker":
		runWorker(ctx, e, cfg)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  vetterctl verify <email>
  vetterctl bulk <file-of-emails>
  vetterctl status <job-id>
  vetterctl cancel <job-id>
  vetterctl worker    (consumes USE_QUEUE=1 bulk jobs until signalled)`)
}

// runWorker is the long-running counterpart to "bulk" when USE_QUEUE=1:
// "bulk" enqueues, this consumes. Mirrors the teacher's split between an
// API process and a separate cmd/worker process reading the same queue.
func runWorker(ctx context.Context, e *engine.Engine, cfg config.Config) {
	if !cfg.UseQueue {
		log.Fatal("worker: USE_QUEUE must be set to run the queue consumer")
	}
	e.StartQueueWorkers(ctx, cfg.WorkerConcurrency)
	log.Printf("worker: consuming bulk jobs with %d goroutines", cfg.WorkerConcurrency)
	<-ctx.Done()
	log.Println("worker: shutdown signal received, exiting")
}

func openJobStore(cfg config.Config) jobstore.JobStore {
	if cfg.DBURL == "" {
		log.Println("DB_URL not set, using in-memory job store (results do not survive a restart)")
		return jobstore.NewMemory()
	}
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := jobstore.NewPG(connectCtx, cfg.DBURL)
	if err != nil {
		log.Fatalf("connect to job store: %v", err)
	}
	log.Println("connected to PostgreSQL job store")
	return pg
}

func runVerify(ctx context.Context, e *engine.Engine) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	result, err := e.VerifyOne(ctx, demoOwner, fs.Arg(0))
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	printJSON(result)
}

func runBulk(ctx context.Context, e *engine.Engine) {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		log.Fatalf("open %s: %v", fs.Arg(0), err)
	}
	defer f.Close()

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			emails = append(emails, line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read %s: %v", fs.Arg(0), err)
	}

	job, err := e.SubmitBulk(ctx, demoOwner, emails)
	if err != nil {
		log.Fatalf("submit bulk job: %v", err)
	}
	printJSON(job)
}

func runStatus(ctx context.Context, e *engine.Engine) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	job, err := e.GetJob(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("get job: %v", err)
	}
	printJSON(job)
}

func runCancel(ctx context.Context, e *engine.Engine) {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fs.Parse(os.Args[2:])
	if fs.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	if err := e.CancelJob(ctx, fs.Arg(0)); err != nil {
		log.Fatalf("cancel job: %v", err)
	}
	fmt.Println("cancelled")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
