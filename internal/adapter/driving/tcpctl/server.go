// Package tcpctl exposes the harvesting engine over a line-oriented TCP
// control protocol: SCRAPE <job-file> runs repositories sequentially,
// SCRAPE_PARALLEL <job-file> fans them out, and the server streams PROGRESS
// lines back to the caller while the run is active.
package tcpctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fixmycodedb/scraper/internal/application"
)

const defaultProgressInterval = time.Second

// Runner executes job files and reports live progress. Satisfied by
// *application.Orchestrator.
type Runner interface {
	RunJobFile(ctx context.Context, path string, parallel bool) (*application.RunResult, error)
	Progress() (persisted int64, target int64, commit string)
}

// ControlServer accepts plain-text commands over TCP. Connections are handled
// one at a time: the engine runs a single job at once and the connected client
// owns the progress stream.
type ControlServer struct {
	addr             string
	runner           Runner
	progressInterval time.Duration
}

// NewControlServer creates a control server listening on addr once started.
func NewControlServer(addr string, runner Runner) *ControlServer {
	return &ControlServer{addr: addr, runner: runner, progressInterval: defaultProgressInterval}
}

// ListenAndServe blocks accepting connections until ctx is canceled.
func (s *ControlServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. The listener is
// closed on return.
func (s *ControlServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("control server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handleConn(ctx, conn)
	}
}

func (s *ControlServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	cmd := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(cmd, "SCRAPE_PARALLEL "):
		path := strings.TrimSpace(strings.TrimPrefix(cmd, "SCRAPE_PARALLEL "))
		s.runJob(ctx, conn, path, true)
	case strings.HasPrefix(cmd, "SCRAPE "):
		path := strings.TrimSpace(strings.TrimPrefix(cmd, "SCRAPE "))
		s.runJob(ctx, conn, path, false)
	default:
		writeLine(conn, "ERROR: Invalid format. Use: SCRAPE {path} or SCRAPE_PARALLEL {path}")
	}
}

func (s *ControlServer) runJob(ctx context.Context, conn net.Conn, path string, parallel bool) {
	if parallel {
		writeLine(conn, "ACK: Parallel scraping "+path)
	} else {
		writeLine(conn, "ACK: Scraping "+path)
	}

	type runOutcome struct {
		result *application.RunResult
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := s.runner.RunJobFile(ctx, path, parallel)
		done <- runOutcome{result, err}
	}()

	ticker := time.NewTicker(s.progressInterval)
	defer ticker.Stop()

	var outcome runOutcome
stream:
	for {
		select {
		case outcome = <-done:
			break stream
		case <-ticker.C:
			persisted, target, commit := s.runner.Progress()
			writeLine(conn, fmt.Sprintf("PROGRESS: %d/%d (commit: %s)", persisted, target, commit))
		}
	}

	if outcome.err != nil {
		if errors.Is(outcome.err, application.ErrRunInProgress) {
			writeLine(conn, "ERROR: a run is already in progress")
		} else {
			writeLine(conn, "ERROR: "+outcome.err.Error())
		}
		slog.Error("job run failed", "path", path, "parallel", parallel, "error", outcome.err)
		return
	}

	if parallel {
		r := outcome.result
		writeLine(conn, fmt.Sprintf("RESULT: Completed %d/%d repos, %d records in %.1fs",
			r.ReposSucceeded, r.ReposTotal, r.Records, r.Duration.Seconds()))
		writeLine(conn, "ACK: Finished Parallel Scraping "+path)
	} else {
		writeLine(conn, "ACK: Finished Scraping "+path)
	}
}

func writeLine(conn net.Conn, line string) {
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		slog.Debug("control write failed", "error", err)
	}
}
