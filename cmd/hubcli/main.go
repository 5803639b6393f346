package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by all commands
type globalOptions struct {
	url         string
	token       string
	headers     []string
	retries     uint64
	idleTimeout time.Duration
	debug       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer, logOut io.Writer) *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:   "hubcli",
		Short: "Call methods of a SignalR hub",
		Long: `hubcli connects to a SignalR hub over WebSockets with the JSON hub protocol.

Method arguments are JSON values, e.g.
  hubcli invoke --url http://localhost:5000/chat Add 5 20
Results are printed as one JSON value per line.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.url, "url", "u", "", "URL of the hub")
	flags.StringVarP(&opts.token, "token", "t", "", "access token sent as access_token query parameter")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "message header key=value, can be repeated")
	flags.Uint64Var(&opts.retries, "retries", 3, "number of connect retries with exponential backoff")
	flags.DurationVar(&opts.idleTimeout, "idle-timeout", 30*time.Second, "close the connection when nothing has been sent for this interval, 0 disables")
	flags.BoolVar(&opts.debug, "debug", false, "log debug events")
	_ = rootCmd.MarkPersistentFlagRequired("url")

	rootCmd.AddCommand(
		invokeCmd(opts, out, logOut),
		streamCmd(opts, out, logOut),
		sendCmd(opts, out, logOut),
		listenCmd(opts, out, logOut),
	)
	return rootCmd
}
