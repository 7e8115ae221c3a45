// Command tcpproxy runs a transparent TCP reverse proxy: it listens on a
// local port, forwards every accepted connection to a fixed upstream target
// through an optional traffic-shaping filter chain, and exposes an admin
// control socket for inspection and control.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ehdtndla123/proxy-server/internal/config"
	"github.com/ehdtndla123/proxy-server/internal/filter"
	"github.com/ehdtndla123/proxy-server/internal/logging"
	"github.com/ehdtndla123/proxy-server/internal/supervisor"
	"github.com/ehdtndla123/proxy-server/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("tcpproxy", pflag.ContinueOnError)

	var (
		port        int
		target      string
		configPath  string
		logFile     string
		debug       bool
		showHelp    bool
		showVersion bool

		delays    []int
		drops     []float64
		throttles []int64
	)

	flags.IntVarP(&port, "port", "p", config.DefaultListenPort, "listen port")
	flags.StringVarP(&target, "target", "t", "", "upstream target as host:port")
	flags.StringVarP(&configPath, "config", "c", "", "path to a configuration file")
	flags.StringVarP(&logFile, "log", "l", "", "log file path (overrides config)")
	flags.BoolVarP(&debug, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&showHelp, "help", "h", false, "show usage and exit")
	flags.BoolVar(&showVersion, "version", false, "show version and exit")

	flags.VarP(&repeatedInt{values: &delays, min: 0, max: 10_000, name: "delay"}, "delay", "d", "add a Delay filter (milliseconds); may be repeated")
	flags.VarP(&repeatedFloat{values: &drops, min: 0, max: 1, name: "drop rate"}, "drop", "r", "add a Drop filter (probability 0.0-1.0); may be repeated")
	flags.VarP(&repeatedInt64{values: &throttles, min: 1, name: "throttle rate"}, "throttle", "b", "add a Throttle filter (bytes/sec); may be repeated")

	flags.SetOutput(os.Stderr)
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if showHelp {
		printUsage(flags)
		return 0
	}
	if showVersion {
		fmt.Println(version.String())
		return 0
	}

	cfg := config.Default()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
			return 1
		}
	}

	// CLI flags that were actually set on the command line win over the
	// config file, regardless of load order above. The original program's
	// file-overrides-CLI precedence is treated as an unintended bug; this
	// is the corrected precedence.
	if flags.Changed("port") {
		cfg.ListenPort = port
	}
	if flags.Changed("target") {
		host, p, err := splitTarget(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
			return 1
		}
		cfg.TargetHost = host
		cfg.TargetPort = p
	}
	if flags.Changed("log") {
		cfg.LogFile = logFile
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
		return 1
	}

	chain, err := buildChain(delays, drops, throttles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
		return 1
	}
	cfg.EnableFilters = cfg.EnableFilters || chain.Len() > 0

	level := logging.LevelInfo
	if debug {
		level = logging.LevelDebug
	}
	logFilePath := ""
	if cfg.EnableLogging {
		logFilePath = cfg.LogFile
	}
	closer, err := logging.Init(logFilePath, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
		return 1
	}
	defer logging.Cleanup()
	if closer != nil {
		defer closer.Close()
	}

	logging.Infof("tcpproxy %s starting: listen :%d, target %s:%d, filters %d",
		version.String(), cfg.ListenPort, cfg.TargetHost, cfg.TargetPort, chain.Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, chain)
	if err := sup.Run(ctx); err != nil {
		logging.Errorf("supervisor exited with error: %v", err)
		fmt.Fprintf(os.Stderr, "tcpproxy: %v\n", err)
		return 1
	}
	return 0
}

// buildChain constructs a filter.Chain from the repeated -d/-r/-b flags.
// Each flag kind's occurrences are appended as a contiguous run, in
// delay-then-drop-then-throttle order (recorded in DESIGN.md as the chosen
// interleaving when distinct flag kinds are mixed on one command line).
func buildChain(delays []int, drops []float64, throttles []int64) (filter.Chain, error) {
	var chain filter.Chain
	for _, ms := range delays {
		f, err := filter.NewDelay(ms)
		if err != nil {
			return chain, err
		}
		if _, err := chain.Add(f); err != nil {
			return chain, err
		}
	}
	for _, p := range drops {
		f, err := filter.NewDrop(p)
		if err != nil {
			return chain, err
		}
		if _, err := chain.Add(f); err != nil {
			return chain, err
		}
	}
	for _, rate := range throttles {
		f, err := filter.NewThrottle(rate)
		if err != nil {
			return chain, err
		}
		if _, err := chain.Add(f); err != nil {
			return chain, err
		}
	}
	return chain, nil
}

func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target %q: expected host:port", target)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target %q: port must be numeric", target)
	}
	return host, port, nil
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stdout, "Usage: tcpproxy [options]")
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "A transparent TCP reverse proxy with traffic shaping and admin control.")
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, strings.TrimRight(flags.FlagUsages(), "\n"))
}
