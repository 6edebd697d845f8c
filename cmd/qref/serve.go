package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qref/internal/api"
	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/dataset"
	"github.com/samcharles93/qref/internal/logger"
	"github.com/samcharles93/qref/internal/model"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		storeSize   int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a model over HTTP",
		Flags: append(dataFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "store-size",
				Usage:       "classifications kept for GET /v1/classifications/:id",
				Value:       api.DefaultStoreCapacity,
				Destination: &storeSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, fileConfig, &addr)

			e, err := newServer(ctx, dataDir, modelDir, storeSize)
			if err != nil {
				return cli.Exit(err, 1)
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}

// newServer loads the model in modelDir and, when dataDir is set, the dataset
// whose test cases the server can classify by id.
func newServer(ctx context.Context, dataDir, modelDir string, storeSize int) (*echo.Echo, error) {
	log := logger.FromContext(ctx)

	if modelDir == "" {
		return nil, errors.New("--model-dir or --data-dir is required")
	}
	net, err := model.Load(modelDir)
	if err != nil {
		return nil, err
	}
	log.Info("loaded model", "model", net.Manifest.Name, "dtype", net.Manifest.DType, "classes", net.NumClasses())

	var db classifier.Database
	if dataDir != "" {
		ds, err := dataset.Open(dataDir)
		if err != nil {
			return nil, err
		}
		log.Info("loaded dataset", "dataset", ds.Manifest.Name, "test_cases", ds.Len())
		db = ds
	}

	server := api.NewServer(net.Manifest.Name, net, db, api.NewClassificationStore(storeSize))
	e := echo.New()
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	server.Register(e)
	return e, nil
}
