package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2beens/dishexplorer/internal/config"
	"github.com/2beens/dishexplorer/internal/console"
	"github.com/2beens/dishexplorer/internal/dishapi"
	"github.com/2beens/dishexplorer/internal/logging"
	"github.com/2beens/dishexplorer/internal/session"
	"github.com/2beens/dishexplorer/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file, defaults are used if it does not exist")
	sessionPath := flag.String("session", "", "session file, overrides session_file from config")
	apiURL := flag.String("api", "", "dish API base URL, overrides api_url from config")
	flag.Parse()

	cfg, err := loadConfig(*env, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(console.ExitError)
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}

	if cfg.LogsPath != "" {
		logging.Setup(logging.LoggerSetupParams{
			LogFileName:      cfg.LogsPath,
			LogLevel:         cfg.LogLevel,
			Environment:      cfg.Environment,
			SentryEnabled:    cfg.SentryEnabled,
			SentryDSN:        os.Getenv("SENTRY_DSN"),
			SentryServerName: "dishctl",
		})
	} else {
		// stdout belongs to command output
		log.SetOutput(os.Stderr)
		log.SetLevel(logging.GetLevel(cfg.LogLevel))
	}

	path := *sessionPath
	if path == "" {
		path = cfg.SessionFile
	}
	if path == "" {
		path, err = defaultSessionPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "session file: %s\n", err)
			os.Exit(console.ExitError)
		}
	}
	backend, err := session.NewFileBackend(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session file: %s\n", err)
		os.Exit(console.ExitError)
	}
	log.Debugf("using session file [%s], api [%s]", backend.Path(), cfg.APIURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	api := dishapi.NewClient(cfg.APIURL, &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.APITimeout(),
	})
	code := console.NewApp(api, backend, os.Stdout, os.Stderr).Run(ctx, flag.Args())

	stop()
	os.Exit(code)
}

func loadConfig(env, path string) (*config.Config, error) {
	exists, err := pkg.PathExists(path, false)
	if err != nil {
		return nil, err
	}
	if !exists {
		return config.Default(), nil
	}
	return config.Load(env, path)
}

func defaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dishexplorer", "session.json"), nil
}
