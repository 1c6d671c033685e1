// Command rulerelay forwards every request to one fixed upstream origin so that
// Clash clients can fetch rule files through a reachable address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/config"
	"github.com/John-Robertt/clashrules/internal/httpapi"
	"github.com/John-Robertt/clashrules/internal/logging"
	"github.com/John-Robertt/clashrules/internal/relay"
)

func main() {
	configFile := flag.String("config", "", "配置文件路径（可选，环境变量优先级更高）")
	listen := flag.String("listen", "", "HTTP 监听地址（覆盖配置中的 Relay.Listen）")
	readHeaderTimeout := flag.Duration("read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	healthcheck := flag.Bool("healthcheck", false, "探测本地实例的健康检查端点后退出（用于容器 HEALTHCHECK）")
	healthcheckURL := flag.String("healthcheck-url", "", "健康检查 URL（默认由监听地址推导）")
	healthcheckTimeout := flag.Duration("healthcheck-timeout", 2*time.Second, "健康检查超时")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}

	if *healthcheck {
		target := *healthcheckURL
		if target == "" {
			if target, err = deriveHealthzURL(cfg.Relay.Listen); err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck: %s\n", err)
				os.Exit(1)
			}
		}
		if err := runHealthcheck(target, *healthcheckTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "healthcheck: %s\n", err)
			os.Exit(1)
		}
		return
	}

	loggers := logging.MakeLoggers("relay", cfg.Main.LogLevel.GetOrElse(ldlog.Info))
	if err := config.ValidateRelay(&cfg); err != nil {
		loggers.Errorf("Invalid configuration: %s", err)
		os.Exit(1)
	}

	opt, err := handlerOptions(cfg, loggers)
	if err != nil {
		loggers.Errorf("Invalid configuration: %s", err)
		os.Exit(1)
	}
	handler, err := httpapi.NewHandler(opt)
	if err != nil {
		loggers.Errorf("Unable to create relay: %s", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
	}

	loggers.Infof("Listening on http://%s, relaying to %s", cfg.Relay.Listen, cfg.Relay.Upstream.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		loggers.Info("Shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			loggers.Warnf("Graceful shutdown failed: %s", err)
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggers.Errorf("Server error: %s", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggers.Errorf("Error starting http listener on %s: %s", cfg.Relay.Listen, err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if err := config.LoadConfigFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := config.LoadConfigFromEnvironment(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func handlerOptions(cfg config.Config, loggers ldlog.Loggers) (httpapi.Options, error) {
	headers := make(http.Header)
	for _, line := range cfg.Relay.ResponseHeader {
		name, value, err := config.ParseHeaderLine(line)
		if err != nil {
			return httpapi.Options{}, err
		}
		headers.Add(name, value)
	}
	upstream := *cfg.Relay.Upstream.Get() // ValidateRelay has ensured this is set
	return httpapi.Options{
		Relay: relay.Options{
			Upstream:        &upstream,
			AllowCORS:       cfg.Relay.AllowCORS,
			ResponseHeaders: headers,
			Timeout:         cfg.Relay.Timeout.GetOrElse(0),
			MaxRedirects:    cfg.Relay.MaxRedirects.GetOrElse(config.DefaultRelayMaxRedirects),
			Loggers:         loggers,
		},
		Loggers: loggers,
	}, nil
}

// deriveHealthzURL turns a listen address into a URL a local probe can reach.
// Wildcard hosts are replaced with the loopback address.
func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid listen url %q", listen)
		}
		u.Path = httpapi.HealthzPath
		u.RawQuery = ""
		return u.String(), nil
	}

	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid listen port in %q", listen)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + httpapi.HealthzPath, nil
}

func runHealthcheck(target string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
