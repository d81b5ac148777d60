// Command btcp-server accepts a single file transfer from a btcp-client
// and writes it to disk.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

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
		localAddr  = flag.String("local", ":30000", "local bind address")
		outputPath = flag.String("out", "", "path to write the received file")
		window     = flag.Uint("window", btcp.DefaultWindow, "advertised receive window in segments")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()
	if *outputPath == "" {
		return fmt.Errorf("btcp-server: -out is required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	transport, err := udptransport.Listen(*localAddr, logger)
	if err != nil {
		return err
	}

	server := btcp.NewServer(transport, btcp.Config{
		Window: uint8(*window),
		Logger: logger,
	})
	defer server.Close()

	logger.Info("listening", slog.String("addr", *localAddr))
	if err := server.Accept(); err != nil {
		return err
	}
	logger.Info("accepted connection")

	f, err := os.Create(*outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var total int
	for {
		chunk, err := server.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if _, err := f.Write(chunk); err != nil {
			return err
		}
		total += len(chunk)
	}
	logger.Info("transfer complete", slog.Int("bytes", total))
	return nil
}
