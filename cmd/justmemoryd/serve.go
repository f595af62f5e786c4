package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"justmemory/internal/config"
	"justmemory/internal/engine"
	"justmemory/internal/errs"
	"justmemory/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the framed stdin/stdout protocol server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errs.Wrap(errs.SchemaError, err, "load config")
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		eng, err := engine.Boot(ctx, cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		if configPath != "" {
			watcher, err := config.Watch(ctx, configPath, func(reloaded *config.Config) {
				logging.ReloadConfig(reloaded.Logging.DebugMode, reloaded.Logging.Categories, reloaded.Logging.Level, reloaded.Logging.JSONFormat)
			})
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("serve: could not watch %s for changes: %v", configPath, err)
			} else {
				defer watcher.Stop()
			}
		}

		return serveStdio(ctx, eng)
	},
}

// Request is one framed call: a caller-assigned id, the tool name from
// spec Section 6's surface, and its parameter bag.
type Request struct {
	ID     any            `json:"id"`
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// Response carries exactly one of Result or Error back, echoing the
// request's id so pipelined callers can match replies to calls.
type Response struct {
	ID     any                   `json:"id"`
	Result any                   `json:"result,omitempty"`
	Error  *engine.ErrorResponse `json:"error,omitempty"`
}

// serveStdio reads Content-Length framed JSON requests on stdin and writes
// framed JSON responses on stdout until ctx is cancelled or stdin closes.
func serveStdio(ctx context.Context, eng *engine.Engine) error {
	reader := bufio.NewReader(os.Stdin)
	writer := os.Stdout

	logging.Boot("serve: listening on stdio")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req, err := readFrame(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			logging.Get(logging.CategoryAPI).Warn("serve: malformed frame: %v", err)
			continue
		}

		result, callErr := eng.Call(ctx, req.Tool, req.Params)
		resp := Response{ID: req.ID, Result: result}
		if callErr != nil {
			errResp := engine.AsErrorResponse(callErr)
			resp.Error = &errResp
			resp.Result = nil
		}
		if err := writeFrame(writer, resp); err != nil {
			return err
		}
	}
}

func readFrame(reader *bufio.Reader) (Request, error) {
	var contentLength int
	for {
		header, err := reader.ReadString('\n')
		if err != nil {
			return Request{}, err
		}
		header = strings.TrimRight(header, "\r\n")
		if header == "" {
			break
		}
		if strings.HasPrefix(header, "Content-Length:") {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "Content-Length:")))
			if err != nil {
				return Request{}, errs.Wrap(errs.ValidationError, err, "parse Content-Length header")
			}
			contentLength = n
		}
	}
	if contentLength <= 0 {
		return Request{}, errs.New(errs.ValidationError, "frame missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return Request{}, err
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Request{}, errs.Wrap(errs.ValidationError, err, "parse request body")
	}
	return req, nil
}

func writeFrame(w io.Writer, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return errs.Wrap(errs.InvariantViolation, err, "marshal response")
	}
	_, err = fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(body), body)
	return err
}
