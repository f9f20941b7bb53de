// Command feed-dump renders one or more kvlog segments as newline
// delimited JSON, decoding each row's raw frame back into its wire
// representation. A row that fails to decode is skipped and counted;
// it never aborts the dump.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"livekit-feed/internal/dump"
	"livekit-feed/internal/feed"
	"livekit-feed/internal/kvlog"
)

func main() {
	var (
		roomsFlag   string
		sinceFlag   string
		untilFlag   string
		commandFlag string
		outFlag     string
		snappyFlag  bool
	)
	flag.StringVar(&roomsFlag, "rooms", "", "comma-separated room ids to include (default: all)")
	flag.StringVar(&sinceFlag, "since", "", "RFC3339 lower bound on frame arrival time (inclusive)")
	flag.StringVar(&untilFlag, "until", "", "RFC3339 upper bound on frame arrival time (inclusive)")
	flag.StringVar(&commandFlag, "command", "", "only emit JSON frames whose \"cmd\" field matches")
	flag.StringVar(&outFlag, "out", "", "output file (default: stdout)")
	flag.BoolVar(&snappyFlag, "snappy", false, "frame output with snappy compression")
	flag.Parse()

	segments := flag.Args()
	if len(segments) == 0 {
		fmt.Fprintln(os.Stderr, "usage: feed-dump [flags] segment.kvlog [segment2.kvlog ...]")
		os.Exit(2)
	}

	filter, err := buildFilter(roomsFlag, sinceFlag, untilFlag, commandFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feed-dump: %v\n", err)
		os.Exit(2)
	}

	out, closeOut, err := buildOutput(outFlag, snappyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feed-dump: %v\n", err)
		os.Exit(1)
	}
	defer closeOut()

	var totalWritten, totalFailed int
	for _, path := range segments {
		written, failed, err := dumpSegment(out, path, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "feed-dump: %s: %v\n", path, err)
			os.Exit(1)
		}
		totalWritten += written
		totalFailed += failed
	}

	if totalFailed > 0 {
		fmt.Fprintf(os.Stderr, "feed-dump: %d record(s) written, %d row(s) failed to decode\n", totalWritten, totalFailed)
	}
}

func dumpSegment(out io.Writer, path string, filter dump.Filter) (written, failed int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r, err := kvlog.Open(f, kvlog.Config{})
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	return dump.Run(out, r, filter)
}

func buildOutput(path string, useSnappy bool) (io.Writer, func(), error) {
	var base io.Writer = os.Stdout
	var closers []func()

	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("create output: %w", err)
		}
		base = f
		closers = append(closers, func() { f.Close() })
	}

	if useSnappy {
		sw := snappy.NewBufferedWriter(base)
		closers = append([]func(){func() { sw.Close() }}, closers...)
		base = sw
	}

	return base, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func buildFilter(rooms, since, until, command string) (dump.Filter, error) {
	var f dump.Filter
	f.Command = strings.TrimSpace(command)

	if rooms = strings.TrimSpace(rooms); rooms != "" {
		for _, part := range strings.Split(rooms, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				return f, fmt.Errorf("invalid room id %q: %w", part, err)
			}
			f.RoomIDs = append(f.RoomIDs, feed.RoomID(v))
		}
	}

	if since = strings.TrimSpace(since); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, fmt.Errorf("invalid -since %q: %w", since, err)
		}
		f.Since = feed.Timestamp(t.UnixMilli())
	}

	if until = strings.TrimSpace(until); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return f, fmt.Errorf("invalid -until %q: %w", until, err)
		}
		f.Until = feed.Timestamp(t.UnixMilli())
	}

	return f, nil
}
