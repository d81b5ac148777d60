// Command btcp-client sends a file to a btcp-server over an unreliable
// datagram substrate.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/elee1766/btcp"
	"github.com/elee1766/btcp/udptransport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverAddr = flag.String("server", "127.0.0.1:30000", "server host:port")
		localAddr  = flag.String("local", ":20000", "local bind address")
		inputPath  = flag.String("in", "", "path of the file to send")
		window     = flag.Uint("window", btcp.DefaultWindow, "advertised receive window in segments")
		verbose    = flag.Bool("v", false, "enable debug logging")
		lossy      = flag.Bool("lossy", false, "wrap the transport with fault injection (testing only)")
		dropRate   = flag.Float64("drop-rate", 0, "probability (0..1) an outbound datagram is dropped, requires -lossy")
		dupRate    = flag.Float64("dup-rate", 0, "probability (0..1) an outbound datagram is duplicated, requires -lossy")
		reorderMS  = flag.Int("reorder-ms", 0, "max jitter in milliseconds applied to outbound datagrams, requires -lossy")
	)
	flag.Parse()
	if *inputPath == "" {
		return fmt.Errorf("btcp-client: -in is required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", *serverAddr)
	if err != nil {
		return err
	}

	transport, err := udptransport.Listen(*localAddr, logger)
	if err != nil {
		return err
	}
	var t btcp.Transport = transport
	if *lossy {
		t = udptransport.NewLossy(transport, udptransport.LossyConfig{
			DropRate:      *dropRate,
			DuplicateRate: *dupRate,
			ReorderDelay:  time.Duration(*reorderMS) * time.Millisecond,
			Log:           logger,
		})
	}

	client := btcp.NewClient(t, btcp.Config{
		Window: uint8(*window),
		Logger: logger,
	})
	defer client.Close()

	logger.Info("connecting", slog.String("server", addr.String()))
	if err := client.Connect(addr); err != nil {
		return err
	}
	if client.State() != btcp.StateConnEst {
		return fmt.Errorf("btcp-client: handshake did not complete")
	}

	logger.Info("sending", slog.Int("bytes", len(data)))
	if err := client.Send(data); err != nil {
		return err
	}

	logger.Info("disconnecting")
	if err := client.Disconnect(); err != nil {
		return err
	}
	logger.Info("done")
	return nil
}
