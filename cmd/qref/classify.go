package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qref/internal/classifier"
	"github.com/samcharles93/qref/internal/dataset"
	"github.com/samcharles93/qref/internal/logger"
	"github.com/samcharles93/qref/internal/model"
)

func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Run dataset test cases through a model and report accuracy",
		Flags: append(dataFlags(),
			&cli.StringFlag{
				Name:        "validation-file-in",
				Usage:       "reference predictions every test case must reproduce",
				Destination: &validationFileIn,
			},
			&cli.StringFlag{
				Name:        "validation-file-out",
				Usage:       "write this run's predictions here",
				Destination: &validationFileOut,
			},
			&cli.IntFlag{
				Name:        "iterations",
				Aliases:     []string{"n"},
				Usage:       "run test cases 0..n-1 (0 = the dataset's default ids, labels enforced)",
				Destination: &iterations,
			},
			&cli.IntFlag{
				Name:        "top-k",
				Usage:       "ranked predictions to log per test case",
				Value:       classifier.DefaultTopK,
				Destination: &topK,
			},
			&cli.StringFlag{
				Name:        "report",
				Usage:       "write a JSON run report here",
				Destination: &reportPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyClassifyConfig(cmd, fileConfig)
			cfg := classifier.Config{
				DataDir:           dataDir,
				ModelDir:          modelDir,
				ValidationFileIn:  validationFileIn,
				ValidationFileOut: validationFileOut,
				Iterations:        iterations,
				TopK:              topK,
			}
			s, err := runClassify(ctx, cfg, reportPath)
			if err != nil {
				return cli.Exit(err, 1)
			}
			if !s.Success() {
				return cli.Exit(fmt.Sprintf("%d of %d test cases failed", s.Tally.Failed+countAborted(s), len(s.Outcomes)), 1)
			}
			return nil
		},
	}
}

// runClassify loads the dataset and model named by cfg and sweeps the
// selected test cases. The returned error covers setup, the sweep itself
// and the output files; failed test cases are only reported in the Summary.
func runClassify(ctx context.Context, cfg classifier.Config, report string) (classifier.Summary, error) {
	log := logger.FromContext(ctx)

	if err := cfg.Validate(); err != nil {
		return classifier.Summary{}, err
	}
	if cfg.ModelDir == "" {
		cfg.ModelDir = cfg.DataDir
	}

	db, err := dataset.Open(cfg.DataDir)
	if err != nil {
		return classifier.Summary{}, err
	}
	net, err := model.Load(cfg.ModelDir)
	if err != nil {
		return classifier.Summary{}, err
	}
	if got, want := db.ImageShape().NumElements(), net.InputShape().NumElements(); got != want {
		return classifier.Summary{}, fmt.Errorf("dataset %q images have %d elements, model %q expects %s",
			db.Manifest.Name, got, net.Manifest.Name, net.InputShape())
	}
	log.Info("loaded",
		"dataset", db.Manifest.Name,
		"test_cases", db.Len(),
		"model", net.Manifest.Name,
		"dtype", net.Manifest.DType,
		"classes", net.NumClasses())

	p, err := classifier.New(cfg, net, db)
	if err != nil {
		return classifier.Summary{}, err
	}
	s, err := p.Run(ctx)
	if err != nil {
		return s, err
	}

	finishErr := p.Finish(ctx, s)
	if report != "" {
		if err := p.NewReport(s).WriteFile(report); err != nil {
			return s, errors.Join(finishErr, err)
		}
		log.Info("wrote report", "path", report)
	}
	return s, finishErr
}

func countAborted(s classifier.Summary) int {
	if s.Aborted {
		return 1
	}
	return 0
}
