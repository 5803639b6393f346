package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/wsrpc/signalr-client"
)

func invokeCmd(opts *globalOptions, out io.Writer, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <method> [args...]",
		Short: "Invoke a hub method and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), opts, logOut)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			result := <-conn.Invoke(cmd.Context(), args[0], parseArguments(args[1:])...)
			if result.Error != nil {
				return result.Error
			}
			return printJSON(out, result.Value)
		},
	}
}

func streamCmd(opts *globalOptions, out io.Writer, logOut io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stream <method> [args...]",
		Short: "Invoke a streaming hub method and print its items",
		Long: `Invoke a streaming hub method and print its items until the server completes the stream.
With --limit, the stream is canceled after the given number of items.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), opts, logOut)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			ctx, cancel := context.WithCancel(cmd.Context())
			results := conn.Stream(ctx, args[0], parseArguments(args[1:])...)
			err = printStream(out, results, limit)
			cancel()
			// results is closed after the cancel invocation has been sent
			for range results {
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "cancel the stream after n items, 0 means no limit")
	return cmd
}

func printStream(out io.Writer, results <-chan signalr.InvokeResult, limit int) error {
	received := 0
	for result := range results {
		if result.Error != nil {
			return result.Error
		}
		if err := printJSON(out, result.Value); err != nil {
			return err
		}
		received++
		if limit > 0 && received == limit {
			return nil
		}
	}
	return nil
}

func sendCmd(opts *globalOptions, out io.Writer, logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "send <method> [args...]",
		Short: "Invoke a hub method without waiting for a result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), opts, logOut)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			return <-conn.Send(cmd.Context(), args[0], parseArguments(args[1:])...)
		},
	}
}

func listenCmd(opts *globalOptions, out io.Writer, logOut io.Writer) *cobra.Command {
	var count int
	var invoke []string
	cmd := &cobra.Command{
		Use:   "listen <method>",
		Short: "Print the arguments of every invocation of method the hub sends",
		Long: `Print the arguments of every invocation of method the hub sends, as JSON array per line.
Listening ends after --count invocations, on interrupt or when the connection is closed.
--invoke sends an invocation after the listener has been set up, e.g. to trigger the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd.Context(), opts, logOut)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			ch, err := conn.On(ctx, args[0])
			if err != nil {
				return err
			}
			if len(invoke) > 0 {
				if err := <-conn.Send(ctx, invoke[0], parseArguments(invoke[1:])...); err != nil {
					return err
				}
			}
			received := 0
			for arguments := range ch {
				if err := printJSON(out, arguments); err != nil {
					return err
				}
				received++
				if count > 0 && received == count {
					return nil
				}
			}
			return conn.Err()
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 0, "stop after count invocations, 0 means no limit")
	cmd.Flags().StringSliceVar(&invoke, "invoke", nil, "method and arguments to send after listening started, comma separated")
	return cmd
}
