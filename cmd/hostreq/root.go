package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/hostclient/client"
	"github.com/adamwoolhether/hostclient/client/hostconfig"
	"github.com/adamwoolhether/hostclient/client/retry"
)

type flags struct {
	method     string
	params     []string
	headers    []string
	body       string
	file       string
	field      string
	filename   string
	ajax       bool
	output     string
	outputDir  string
	config     string
	envPrefix  string
	timeout    time.Duration
	trustAll   bool
	noRetry    bool
	noRedirect bool
	status     bool
	verbose    bool
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "hostreq [flags] URL",
		Short: "Send one HTTP request through a pooled host executor",
		Long: `Send one HTTP request and print the response body.

A relative URL is resolved against the host URL of the config file.
Parameters go to the query string for GET-like methods, to a form body for
POST, PUT and PATCH, and to multipart text parts when a file is uploaded.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, args[0])
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.method, "request", "X", "", "request method (default GET, POST with a body)")
	fs.StringArrayVarP(&f.params, "param", "d", nil, "parameter as key=value, repeatable")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, "header as 'Key: value', repeatable")
	fs.StringVar(&f.body, "body", "", "raw string body, overrides parameters and uploads")
	fs.StringVarP(&f.file, "upload", "F", "", "file to upload as multipart")
	fs.StringVar(&f.field, "field", client.DefaultFileFieldName, "multipart field name of the upload")
	fs.StringVar(&f.filename, "filename", "", "multipart filename of the upload")
	fs.BoolVar(&f.ajax, "ajax", false, "mark the request as XMLHttpRequest")
	fs.StringVarP(&f.output, "output", "o", "", "write the body to this file")
	fs.StringVar(&f.outputDir, "output-dir", "", "write the body into this directory using the Content-Disposition filename")
	fs.StringVarP(&f.config, "config", "c", "", "TOML host config file")
	fs.StringVar(&f.envPrefix, "env-prefix", hostconfig.DefaultEnvPrefix, "environment prefix of config overrides")
	fs.DurationVar(&f.timeout, "timeout", client.DefaultReadTimeout, "read timeout for this call, the default keeps the config's socket timeout")
	fs.BoolVarP(&f.trustAll, "insecure", "k", false, "skip TLS certificate verification")
	fs.BoolVar(&f.noRetry, "no-retry", false, "disable retries")
	fs.BoolVar(&f.noRedirect, "no-redirect", false, "do not follow redirects")
	fs.BoolVarP(&f.status, "status", "s", false, "print only the status code")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log request details to stderr")

	cmd.MarkFlagsMutuallyExclusive("output", "output-dir", "status")

	return cmd
}

func run(cmd *cobra.Command, f flags, target string) error {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	var cfgOpts []hostconfig.Option
	if f.trustAll {
		cfgOpts = append(cfgOpts, hostconfig.WithTrustAll(true))
	}
	if f.config == "" && strings.Contains(target, "://") {
		cfgOpts = append(cfgOpts, hostconfig.WithHost(target))
	}

	cfg, err := hostconfig.Load(f.config, f.envPrefix, cfgOpts...)
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithLogger(logger)}
	if f.noRetry {
		opts = append(opts, client.WithRetryPolicy(retry.Never()))
	}
	if f.noRedirect {
		opts = append(opts, client.WithNoFollowRedirects())
	}

	exec, err := client.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer exec.Shutdown()

	spec, err := buildSpec(exec, f, target)
	if err != nil {
		return err
	}

	switch {
	case f.status:
		status, err := spec.NoResult()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)

	case f.output != "":
		if err := spec.File(f.output); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), f.output)

	case f.outputDir != "":
		path, err := spec.FileInDir(f.outputDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)

	default:
		if _, err := spec.Stream(cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	return nil
}

func buildSpec(exec *client.Executor, f flags, target string) (*client.Spec, error) {
	method := strings.ToUpper(f.method)
	if method == "" {
		method = "GET"
		if f.body != "" || f.file != "" {
			method = "POST"
		}
	}

	spec := exec.Method(method, target).
		FileFieldName(f.field).
		ReadTimeout(f.timeout)

	for _, p := range f.params {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("param %q: expected key=value", p)
		}
		spec.Param(k, v)
	}

	for _, h := range f.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("header %q: expected 'Key: value'", h)
		}
		spec.Header(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	switch {
	case f.body != "":
		spec.StringBody(f.body)
	case f.file != "":
		spec.FileBody(f.file)
	}

	if f.filename != "" {
		if f.file == "" {
			return nil, errors.New("--filename requires --upload")
		}
		spec.Filename(f.filename)
	}

	if f.ajax {
		spec.Ajax()
	}

	return spec, nil
}
