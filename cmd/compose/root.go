package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/ffanime/internal/bootstrap"
	"github.com/maauso/ffanime/internal/config"
	"github.com/maauso/ffanime/internal/job"
)

var errRequestRequired = errors.New("--request is required")

// composer is the part of job.Composer the command drives.
type composer interface {
	Compose(ctx context.Context, req job.Request) (*job.Result, error)
}

// composeOutput is what the command prints on success.
type composeOutput struct {
	ID       string  `json:"id"`
	Video    string  `json:"video"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

type composeFlags struct {
	request      string
	responseType string
	pushToS3     bool
}

func newRootCommand() *cobra.Command {
	var flags composeFlags

	cmd := &cobra.Command{
		Use:           "compose",
		Short:         "Compose a video from a JSON request file",
		Long:          "Runs one composition locally with the same environment configuration as the server and prints the result as JSON.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.request == "" {
				return errRequestRequired
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// stdout carries the result.
			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)

			deps, err := bootstrap.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}
			defer deps.Pool.Close()

			return runCompose(cmd, deps.Composer, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.request, "request", "r", "", "Path to the JSON request file (- for stdin)")
	cmd.Flags().StringVar(&flags.responseType, "response-type", "", "Override the request's response_type (url or path)")
	cmd.Flags().BoolVar(&flags.pushToS3, "push-to-s3", false, "Also upload the result to the configured bucket")

	return cmd
}

func runCompose(cmd *cobra.Command, c composer, flags composeFlags) error {
	req, err := readRequest(cmd.InOrStdin(), flags.request)
	if err != nil {
		return err
	}
	if flags.responseType != "" {
		req.ResponseType = flags.responseType
	}
	if flags.pushToS3 {
		req.PushToS3 = true
	}

	res, err := c.Compose(cmd.Context(), req)
	if err != nil {
		return err
	}

	return writeJSON(cmd, composeOutput{
		ID:       res.JobID,
		Video:    res.Location,
		Path:     res.Path,
		Duration: res.Duration,
	})
}

// readRequest decodes a request from path, or from stdin when path is "-".
func readRequest(stdin io.Reader, path string) (job.Request, error) {
	var (
		r    io.Reader = stdin
		name           = "stdin"
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return job.Request{}, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r, name = f, path
	}

	var req job.Request
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return job.Request{}, fmt.Errorf("decode request %s: %w", name, err)
	}
	if strings.TrimSpace(req.ResponseType) == "" {
		req.ResponseType = "path"
	}
	return req, nil
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
