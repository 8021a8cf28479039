// pricectl drives a lastvalue server from the command line.
//
// Usage:
//
//	pricectl [-server URL] <command> [flags] [args]
//
// Commands:
//
//	start [batch-id]          start a batch (server generates the id when omitted)
//	upload <batch-id> <file>  upload a JSON array of price records ("-" for stdin)
//	complete <batch-id>       commit a batch
//	cancel <batch-id>         discard a batch
//	load <file>               start, upload in chunks and complete in one go
//	status [batch-id]         show one batch, or all of them
//	get <instrument-id>       show the last price for an instrument
//	snapshot                  show every stored price
//	watch                     stream commits over WebSocket
//	mirror -from URL -instruments A,B
//	                          poll another server and commit changes here
//	version                   print build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/feed"
	"github.com/rickgao/lastvalue/internal/poller"
	"github.com/rickgao/lastvalue/internal/version"
)

func main() {
	server := flag.String("server", envOr("LASTVALUE_URL", "http://localhost:8080"), "lastvalue base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := api.NewClient(*server,
		api.WithLogger(logger),
		api.WithTimeout(*timeout),
	)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := dispatch(ctx, client, logger, cmd, args); err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "%s: %s (%d %s)\n", cmd, apiErr.Message, apiErr.StatusCode, apiErr.Kind)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pricectl [-server URL] <start|upload|complete|cancel|load|status|get|snapshot|watch|mirror|version> [args]")
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dispatch(ctx context.Context, c *api.Client, logger *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "start":
		if len(args) == 0 {
			return printResult(c.StartNewBatch(ctx))
		}
		return printResult(c.StartBatch(ctx, args[0]))

	case "upload":
		if len(args) != 2 {
			return errors.New("usage: upload <batch-id> <file>")
		}
		records, err := readRecords(args[1])
		if err != nil {
			return err
		}
		return printResult(c.Upload(ctx, args[0], records))

	case "complete":
		if len(args) != 1 {
			return errors.New("usage: complete <batch-id>")
		}
		return printResult(c.Complete(ctx, args[0]))

	case "cancel":
		if len(args) != 1 {
			return errors.New("usage: cancel <batch-id>")
		}
		return printResult(c.Cancel(ctx, args[0]))

	case "load":
		return runLoad(ctx, c, logger, args)

	case "status":
		if len(args) == 0 {
			return printResult(c.ListBatches(ctx))
		}
		return printResult(c.GetBatch(ctx, args[0]))

	case "get":
		if len(args) != 1 {
			return errors.New("usage: get <instrument-id>")
		}
		return printResult(c.GetPrice(ctx, args[0]))

	case "snapshot":
		prices, ver, err := c.Snapshot(ctx)
		if err != nil {
			return err
		}
		return printJSON(struct {
			Version uint64                     `json:"version"`
			Prices  map[string]api.PriceRecord `json:"prices"`
		}{ver, prices})

	case "watch":
		return runWatch(ctx, c, logger)

	case "mirror":
		return runMirror(ctx, c, logger, args)

	case "version":
		return printJSON(version.Get())

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// runLoad commits a file as one batch, uploading it in chunks. Any failure
// after the batch starts cancels it.
func runLoad(ctx context.Context, c *api.Client, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	chunk := fs.Int("chunk", 1000, "records per upload call")
	batchID := fs.String("batch", "", "batch id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *chunk < 1 {
		return errors.New("usage: load [-chunk N] [-batch ID] <file>")
	}

	records, err := readRecords(fs.Arg(0))
	if err != nil {
		return err
	}

	var started *api.BatchResponse
	if *batchID == "" {
		started, err = c.StartNewBatch(ctx)
	} else {
		started, err = c.StartBatch(ctx, *batchID)
	}
	if err != nil {
		return err
	}
	id := started.BatchID

	for off := 0; off < len(records); off += *chunk {
		end := min(off+*chunk, len(records))
		if _, err := c.Upload(ctx, id, records[off:end]); err != nil {
			if _, cerr := c.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
				logger.Warn("cancel after failed upload", "batch_id", id, "error", cerr)
			}
			return fmt.Errorf("upload records %d-%d: %w", off, end, err)
		}
		logger.Debug("uploaded chunk", "batch_id", id, "from", off, "to", end)
	}

	return printResult(c.Complete(ctx, id))
}

func runWatch(ctx context.Context, c *api.Client, logger *slog.Logger) error {
	u, err := feed.StreamURL(c.BaseURL())
	if err != nil {
		return err
	}

	sub, err := feed.Dial(ctx, u, feed.Config{}, logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Errors():
			return err
		case msg, ok := <-sub.Messages():
			if !ok {
				return errors.New("stream closed by server")
			}
			if err := enc.Encode(msg); err != nil {
				return err
			}
		}
	}
}

func runMirror(ctx context.Context, c *api.Client, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("mirror", flag.ContinueOnError)
	from := fs.String("from", "", "upstream lastvalue base URL")
	instruments := fs.String("instruments", "", "comma-separated instrument ids")
	interval := fs.Duration("interval", poller.DefaultConfig().Interval, "poll interval")
	concurrency := fs.Int("concurrency", poller.DefaultConfig().Concurrency, "max concurrent requests")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from == "" || *instruments == "" {
		return errors.New("usage: mirror -from URL -instruments A,B [-interval D]")
	}

	upstream := api.NewClient(*from, api.WithLogger(logger))
	p := poller.New(poller.Config{
		Instruments: strings.Split(*instruments, ","),
		Interval:    *interval,
		Concurrency: *concurrency,
	}, upstream, poller.Publish(c), logger)

	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

func readRecords(path string) ([]api.PriceRecord, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var records []api.PriceRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	return printJSON(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
