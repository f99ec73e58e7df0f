// Command gpusorttest sorts random data on a backend and checks the result
// against a stable CPU sort.
//
// Usage:
//
//	gpusorttest -backend host -sizes 9,1025,70000 -mask 0xFFFFFFFF
//	gpusorttest -backend wgpu -debug-offsets -v
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/backend"
	"github.com/gogpu/gpusort/backend/host"
	"github.com/gogpu/gpusort/verify"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// openBackendFunc opens the backend named by -backend.
var openBackendFunc = openBackend

// run executes the command and returns its exit code. Returning instead of
// exiting lets every deferred Close run on the failure paths.
func run(args []string, stdout io.Writer) int {
	flags := flag.NewFlagSet("gpusorttest", flag.ContinueOnError)
	var (
		backendName = flags.String("backend", "", "backend to test (host, wgpu); empty picks the best available")
		sizes       = flags.String("sizes", "", "comma-separated element counts; empty uses the default set")
		mask        = flags.String("mask", "0xFFFFFFFF", "key mask passed to Sort")
		keyBits     = flags.String("key-bits", "0", "mask applied to generated keys (0 = all bits)")
		seed        = flags.Uint64("seed", uint64(time.Now().UnixNano()), "random seed")
		trials      = flags.Int("trials", 1, "runs per size")
		workaround  = flags.Bool("workaround", false, "bind sort parameters as read-only storage")
		debugDump   = flags.Bool("debug-offsets", false, "dump Offset Storage of failing cases to stderr")
		timeout     = flags.Duration("timeout", 5*time.Minute, "overall timeout")
		verbose     = flags.Bool("v", false, "debug logging")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *verbose {
		gpusort.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	keyMask, err := parseUint32(*mask)
	if err != nil {
		log.Printf("Invalid -mask: %v", err)
		return 2
	}
	bits, err := parseUint32(*keyBits)
	if err != nil {
		log.Printf("Invalid -key-bits: %v", err)
		return 2
	}
	sizeList := verify.Sizes()
	if *sizes != "" {
		if sizeList, err = parseSizes(*sizes); err != nil {
			log.Printf("Invalid -sizes: %v", err)
			return 2
		}
	}

	b, err := openBackendFunc(*backendName, *workaround)
	if err != nil {
		log.Printf("Failed to initialize backend: %v", err)
		return 1
	}
	defer b.Close()

	cfg := verify.Config{
		Sizes:   sizeList,
		Mask:    keyMask,
		KeyBits: bits,
		Seed:    *seed,
		Trials:  *trials,
	}
	if *debugDump {
		cfg.DumpOffsets = os.Stderr
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := verify.Run(ctx, b, cfg)
	if err != nil {
		log.Printf("Run failed: %v", err)
		return 1
	}
	for _, res := range report.Results {
		status := "ok"
		if !res.OK() {
			status = "FAIL"
		}
		fmt.Fprintf(stdout, "%-4s size=%-9d trial=%d passes=%d %v checksum=%016x\n",
			status, res.Size, res.Trial, res.Passes, res.Duration.Round(time.Microsecond), res.Checksum)
		for _, f := range res.Failures {
			fmt.Fprintf(stdout, "     %s\n", f)
		}
	}
	if err := report.Err(); err != nil {
		log.Printf("%s: seed=%d", err, *seed)
		return 1
	}
	log.Printf("%s: %d cases passed (mask %#08x, seed %d)", report.Backend, len(report.Results), keyMask, *seed)
	return 0
}

// openBackend returns an initialized backend. The workaround flag needs
// explicit options, so named backends are constructed directly.
func openBackend(name string, workaround bool) (backend.SortBackend, error) {
	var b backend.SortBackend
	switch name {
	case "":
		if !workaround {
			return backend.InitDefault()
		}
		if b = newWGPU(true); b != nil {
			if err := b.Init(); err == nil {
				return b, nil
			}
		}
		b = host.NewBackend(host.WithBufferWorkaround())
	case backend.BackendHost:
		var opts []host.DeviceOption
		if workaround {
			opts = append(opts, host.WithBufferWorkaround())
		}
		b = host.NewBackend(opts...)
	case backend.BackendWGPU:
		if b = newWGPU(workaround); b == nil {
			return nil, fmt.Errorf("%w: built with nogpu", backend.ErrBackendNotAvailable)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q (available: %s)", name, strings.Join(backend.Available(), ", "))
	}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return b, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func parseSizes(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative size %d", n)
		}
		out = append(out, n)
	}
	return out, nil
}
