// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command fetch sends one request with an asynchttp engine and prints
// what happened to it.
//
// Usage:
//
//	fetch [flags] URL
//
// Settings are loaded with package config, so the engine can also be
// configured by asynchttp.yaml and ASYNCHTTP_ environment variables.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gogama/asynchttp"
	"github.com/gogama/asynchttp/config"
	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/timeout"
	"github.com/spf13/cobra"
)

type options struct {
	cfgFile      string
	method       string
	headers      []string
	data         string
	contentType  string
	noFollow     bool
	maxRedirects int
	timeout      time.Duration
	output       string
	netlog       string
	verbose      bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "fetch [flags] URL",
		Short:        "Send one HTTP request through an asynchttp engine",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(out, &o, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.cfgFile, "config", "", "config file (default is ./asynchttp.yaml)")
	flags.StringVarP(&o.method, "method", "X", "", "request method (default GET, or POST with --data)")
	flags.StringArrayVarP(&o.headers, "header", "H", nil, `request header as "Name: value", may be repeated`)
	flags.StringVarP(&o.data, "data", "d", "", "request body")
	flags.StringVar(&o.contentType, "content-type", "application/octet-stream", "Content-Type of the request body")
	flags.BoolVar(&o.noFollow, "no-follow", false, "do not follow redirects")
	flags.IntVar(&o.maxRedirects, "max-redirects", asynchttp.DefaultMaxRedirects, "maximum number of redirects to follow")
	flags.DurationVar(&o.timeout, "timeout", 0, "request timeout, 0 for none")
	flags.StringVarP(&o.output, "output", "o", "", "write the response body to this file instead of stdout")
	flags.StringVar(&o.netlog, "netlog", "", "write the diagnostic log to this file")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "print response headers and a verbose diagnostic log")
	return cmd
}

func run(out io.Writer, o *options, url string) error {
	f, err := config.Load(o.cfgFile)
	if err != nil {
		return err
	}
	log, err := f.Logger()
	if err != nil {
		return err
	}
	cfg, pool := f.EngineConfig(log)
	if pool != nil {
		defer pool.Shutdown()
	}

	e, err := asynchttp.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Shutdown(); err != nil {
			log.WithError(err).Warn("fetch: engine shutdown failed")
		}
	}()

	netlogPath, verbose := f.NetLog.Path, f.NetLog.Verbose || o.verbose
	if o.netlog != "" {
		netlogPath = o.netlog
	}
	if netlogPath != "" {
		if err = e.StartNetLog(netlogPath, verbose); err != nil {
			return err
		}
	}

	finished := make(chan struct{})
	e.AddRequestFinishedListener(asynchttp.FinishedListenerFunc(func(*request.FinishedInfo) {
		close(finished)
	}), executor.Go)

	c := asynchttp.NewCollector()
	c.NoFollow = o.noFollow
	c.MaxRedirects = o.maxRedirects
	r, err := e.NewRequest(url, c, executor.Go)
	if err != nil {
		return err
	}
	if err = configure(r, o); err != nil {
		r.Cancel()
		return err
	}
	if err = r.Start(); err != nil {
		r.Cancel()
		return err
	}

	res := c.Wait()
	<-finished
	return report(out, o, res)
}

func configure(r *asynchttp.Request, o *options) error {
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("fetch: bad header %q", h)
		}
		if err := r.AddHeader(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	if o.method != "" {
		if err := r.SetMethod(o.method); err != nil {
			return err
		}
	}
	if o.data != "" {
		if err := r.AddHeader("Content-Type", o.contentType); err != nil {
			return err
		}
		if err := r.SetUploadDataProvider(asynchttp.NewBytesProvider([]byte(o.data)), executor.Direct); err != nil {
			return err
		}
		if err := r.AllowDirectExecutor(); err != nil {
			return err
		}
		if o.method == "" {
			if err := r.SetMethod("POST"); err != nil {
				return err
			}
		}
	}
	if o.timeout > 0 {
		if err := r.SetTimeoutPolicy(timeout.Fixed(o.timeout)); err != nil {
			return err
		}
	}
	return nil
}

func report(out io.Writer, o *options, res *asynchttp.Result) error {
	for _, u := range res.Redirects {
		_, _ = fmt.Fprintf(out, "redirect: %s\n", u)
	}
	if res.Info != nil {
		_, _ = fmt.Fprintf(out, "status: %d %s\n", res.Info.StatusCode, res.Info.StatusText)
		_, _ = fmt.Fprintf(out, "protocol: %s\n", res.Info.NegotiatedProtocol)
		if o.verbose {
			if err := res.Info.Header.Write(out); err != nil {
				return err
			}
		}
	}

	switch res.Reason {
	case request.Failed:
		return res.Err
	case request.Canceled:
		_, _ = fmt.Fprintln(out, "canceled")
		return nil
	}

	_, _ = fmt.Fprintf(out, "received: %s\n", humanize.IBytes(uint64(len(res.Body))))
	if o.output != "" {
		return os.WriteFile(o.output, res.Body, 0644)
	}
	_, err := out.Write(res.Body)
	return err
}
