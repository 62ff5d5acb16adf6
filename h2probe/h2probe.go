// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
The h2probe command is a batch HTTP/2 probe: it dials a server with
ALPN "h2", issues a single request over a raw h2wire connection and
prints the response, optionally as a JSON summary.

Usage:

	$ h2probe [flags] <host[:port]>

Flags can also come from H2PROBE_* environment variables.
*/
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/h2wire/h2wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type probeResult struct {
	Target     string            `json:"target"`
	StatusCode int               `json:"status_code"`
	Header     map[string]string `json:"header"`
	BodyBytes  int               `json:"body_bytes"`
	PingRTT    string            `json:"ping_rtt,omitempty"`
	Elapsed    string            `json:"elapsed"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "h2probe <host[:port]>",
		Short:         "h2probe issues one HTTP/2 request over a raw framing connection",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0])
		},
	}
	fl := cmd.Flags()
	fl.String("method", "GET", "request method")
	fl.String("path", "/", "request path")
	fl.StringArray("header", nil, "extra header, name:value (repeatable)")
	fl.String("data", "", "request body")
	fl.Duration("timeout", 15*time.Second, "total request timeout")
	fl.Bool("insecure", false, "skip TLS certificate verification")
	fl.Bool("ping", false, "measure a PING round trip before the request")
	fl.Bool("json", false, "emit a JSON summary instead of plain text")
	fl.Bool("verbose", false, "log frame-level traffic")

	viper.SetEnvPrefix("H2PROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(fl)
	return cmd
}

// withPort adds ":443" if another port isn't already present.
func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "443")
	}
	return host
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(ctx context.Context, target string) error {
	addr := withPort(target)
	lg, err := newLogger(viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer lg.Sync()

	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("timeout"))
	defer cancel()

	start := time.Now()
	cc, err := h2wire.Dial(ctx, addr, &tls.Config{
		InsecureSkipVerify: viper.GetBool("insecure"),
	}, h2wire.WithLogger(lg))
	if err != nil {
		return err
	}
	defer cc.Close()

	res := probeResult{Target: addr, Header: make(map[string]string)}

	if viper.GetBool("ping") {
		pstart := time.Now()
		if err := cc.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		res.PingRTT = time.Since(pstart).String()
	}

	req := &h2wire.Request{
		Method:    viper.GetString("method"),
		Authority: addr,
		Path:      viper.GetString("path"),
	}
	for _, h := range viper.GetStringSlice("header") {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("malformed header %q; want name:value", h)
		}
		req.Header = append(req.Header, h2wire.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	if d := viper.GetString("data"); d != "" {
		req.Body = strings.NewReader(d)
		if req.Method == "GET" {
			req.Method = "POST"
		}
	}

	resp, err := cc.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	for _, h := range resp.Header {
		res.Header[h.Name] = h.Value
	}

	if viper.GetBool("json") {
		n, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return err
		}
		res.BodyBytes = int(n)
		res.Elapsed = time.Since(start).String()
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("HTTP/2 %d\n", resp.StatusCode)
	for _, h := range resp.Header {
		fmt.Printf("%s: %s\n", h.Name, h.Value)
	}
	if res.PingRTT != "" {
		fmt.Printf("\n# ping rtt: %s\n", res.PingRTT)
	}
	fmt.Println()
	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	return nil
}
