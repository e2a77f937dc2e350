package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	echoadapter "github.com/awslabs/aws-lambda-go-api-proxy/echo"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	dashboard "github.com/StephenDillon/weekly-runner-dashboard"
)

func config(c *cli.Context) *dashboard.Config {
	return &dashboard.Config{
		ClientID:        c.String("client-id"),
		ClientSecret:    c.String("client-secret"),
		SessionKey:      c.String("session-key"),
		BaseURL:         c.String("base-url"),
		APIBaseURL:      c.String("api-url"),
		DatabasePath:    c.String("database"),
		WeekStart:       dashboard.ParseWeekday(c.String("week-start")),
		RecentCacheTTL:  c.Duration("recent-cache-ttl"),
		HistoryCacheTTL: c.Duration("history-cache-ttl"),
	}
}

// token produces a random token of length `n`
func token(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func newEngine(c *cli.Context) (*echo.Echo, error) {
	cfg := config(c)
	state, err := token(16)
	if err != nil {
		return nil, err
	}

	log.Info().Str("file", cfg.DatabasePath).Msg("database")
	db, err := sql.Open("sqlite3", cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	store, err := dashboard.NewSQLStore(db)
	if err != nil {
		return nil, err
	}
	races, err := dashboard.NewRaceStore(db)
	if err != nil {
		return nil, err
	}

	service := dashboard.NewService(store, cfg)
	handler := dashboard.NewHandler(cfg, service, races, state)
	return dashboard.NewEngine(cfg, handler), nil
}

func serve(c *cli.Context) error {
	engine, err := newEngine(c)
	if err != nil {
		return err
	}
	address := c.String("addr")
	log.Info().Str("address", address).Msg("serving")
	return engine.Start(address)
}

func function(c *cli.Context) error {
	engine, err := newEngine(c)
	if err != nil {
		return err
	}
	log.Info().Msg("running function")
	adapter := echoadapter.New(engine)
	lambda.Start(dashboard.LambdaHandler(adapter))
	return nil
}

func main() {
	// flag EnvVars are resolved at parse time, so .env must load first
	_ = godotenv.Load()
	app := &cli.App{
		Name:     "dashboard",
		HelpName: "dashboard",
		Usage:    "Running & cycling analytics dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "client-id",
				Required: true,
				Usage:    "oauth client id",
				EnvVars:  []string{"STRAVA_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:     "client-secret",
				Required: true,
				Usage:    "oauth client secret",
				EnvVars:  []string{"STRAVA_CLIENT_SECRET"},
			},
			&cli.StringFlag{
				Name:     "session-key",
				Required: true,
				Usage:    "session keypair",
				EnvVars:  []string{"DASHBOARD_SESSION_KEY"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Value:   "http://localhost:9001",
				Usage:   "public base URL",
				EnvVars: []string{"BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":9001",
				Usage:   "listen address",
				EnvVars: []string{"ADDR"},
			},
			&cli.StringFlag{
				Name:    "api-url",
				Value:   dashboard.DefaultBaseURL,
				Usage:   "remote activity API root",
				EnvVars: []string{"STRAVA_API_URL"},
			},
			&cli.StringFlag{
				Name:    "database",
				Value:   "dashboard.db",
				Usage:   "sqlite database path",
				EnvVars: []string{"DATABASE_PATH"},
			},
			&cli.StringFlag{
				Name:    "week-start",
				Value:   "monday",
				Usage:   "first day of the week for weekly rollups",
				EnvVars: []string{"WEEK_START"},
			},
			&cli.DurationFlag{
				Name:    "recent-cache-ttl",
				Value:   15 * time.Minute,
				Usage:   "cache freshness for windows touching the last 7 days",
				EnvVars: []string{"RECENT_CACHE_TTL"},
			},
			&cli.DurationFlag{
				Name:    "history-cache-ttl",
				Value:   7 * 24 * time.Hour,
				Usage:   "cache freshness for older windows",
				EnvVars: []string{"HISTORY_CACHE_TTL"},
			},
			&cli.BoolFlag{
				Name:    "lambda",
				Value:   false,
				Usage:   "run as an API gateway function",
				EnvVars: []string{"LAMBDA"},
			},
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			log.Error().Err(err).Msg(c.App.Name)
		},
		Before: func(c *cli.Context) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			zerolog.DurationFieldUnit = time.Millisecond
			zerolog.DurationFieldInteger = false
			log.Logger = log.Output(
				zerolog.ConsoleWriter{
					Out:        c.App.ErrWriter,
					NoColor:    false,
					TimeFormat: time.RFC3339,
				},
			)
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.Bool("lambda") {
				return function(c)
			}
			return serve(c)
		},
	}
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
