// Command proxyctl is the operator-facing client for tcpproxy's admin
// socket: it lists live connections, signals or kills a specific handler,
// prints aggregate stats, and can request a clean shutdown of the proxy.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/ehdtndla123/proxy-server/internal/admin"
	"github.com/ehdtndla123/proxy-server/internal/config"
	"github.com/ehdtndla123/proxy-server/internal/version"
)

var socketPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "proxyctl",
		Short:         "Control and inspect a running tcpproxy instance",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&socketPath, "socket", "s", config.DefaultAdminSocket, "path to the admin control socket")

	root.AddCommand(newListCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newKillCmd())
	root.AddCommand(newSignalCmd())
	root.AddCommand(newShutdownCmd())
	return root
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List live connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := admin.Do(socketPath, admin.Request{Command: admin.CommandList})
			if err != nil {
				return err
			}
			printEntries(resp.Entries)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate byte counters for live connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := admin.Do(socketPath, admin.Request{Command: admin.CommandStats})
			if err != nil {
				return err
			}
			var totalIn, totalOut uint64
			for _, e := range resp.Entries {
				totalIn += e.ClientToServerBytes
				totalOut += e.ServerToClientBytes
			}
			color.New(color.Bold).Printf("%d active connection(s)\n", len(resp.Entries))
			fmt.Printf("  client -> target: %d bytes\n", totalIn)
			fmt.Printf("  target -> client: %d bytes\n", totalOut)
			printEntries(resp.Entries)
			return nil
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <handler-id>",
		Short: "Terminate one connection by handler id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseHandlerID(args[0])
			if err != nil {
				return err
			}
			resp, err := admin.Do(socketPath, admin.Request{Command: admin.CommandKill, HandlerID: id})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
}

func newSignalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signal <handler-id> <name-or-number>",
		Short: "Deliver a signal to one connection by handler id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseHandlerID(args[0])
			if err != nil {
				return err
			}
			sig, err := parseSignal(args[1])
			if err != nil {
				return err
			}
			resp, err := admin.Do(socketPath, admin.Request{Command: admin.CommandSignal, HandlerID: id, Signal: sig})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
}

func newShutdownCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Request a clean shutdown of the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !confirm("shut down the proxy at "+socketPath+"?") {
				fmt.Println("aborted")
				return nil
			}
			resp, err := admin.Do(socketPath, admin.Request{Command: admin.CommandShutdown})
			if err != nil {
				return err
			}
			return printResult(resp)
		},
	}
	cmd.Flags().BoolVarP(&force, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printResult(resp admin.Response) error {
	if resp.Success {
		color.New(color.FgGreen).Println(resp.Message)
		return nil
	}
	color.New(color.FgRed).Fprintln(os.Stderr, resp.Message)
	return fmt.Errorf("proxyctl: %s", resp.Message)
}

func printEntries(entries []admin.EntrySummary) {
	if len(entries) == 0 {
		fmt.Println("(no active connections)")
		return
	}
	header := color.New(color.Bold)
	header.Printf("%-6s %-21s %-21s %12s %12s %s\n", "ID", "CLIENT", "TARGET", "C->S BYTES", "S->C BYTES", "LAST ACTIVITY")
	for _, e := range entries {
		fmt.Printf(
			"%-6d %-21s %-21s %12d %12d %s\n",
			e.HandlerID,
			fmt.Sprintf("%s:%d", e.ClientAddr, e.ClientPort),
			fmt.Sprintf("%s:%d", e.TargetAddr, e.TargetPort),
			e.ClientToServerBytes,
			e.ServerToClientBytes,
			e.LastActivity.Format("15:04:05"),
		)
	}
}

func parseHandlerID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handler id %q", s)
	}
	return uint32(id), nil
}

var signalNames = map[string]int32{
	"TERM": int32(unix.SIGTERM),
	"KILL": int32(unix.SIGKILL),
	"STOP": int32(unix.SIGSTOP),
	"CONT": int32(unix.SIGCONT),
	"HUP":  int32(unix.SIGHUP),
	"USR1": int32(unix.SIGUSR1),
	"USR2": int32(unix.SIGUSR2),
}

func parseSignal(s string) (int32, error) {
	name := strings.ToUpper(strings.TrimPrefix(s, "SIG"))
	if sig, ok := signalNames[name]; ok {
		return sig, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return int32(n), nil
	}
	return 0, fmt.Errorf("unrecognized signal %q (try TERM, KILL, STOP, CONT, HUP, USR1, USR2, or a number)", s)
}
