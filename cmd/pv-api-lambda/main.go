// Package main provides the API Lambda. It serves the same routes as
// pv-server behind API Gateway and hands runs to the worker Lambda.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/api"
	"github.com/fpang/scholarship-verification/internal/bootstrap"
	"github.com/fpang/scholarship-verification/internal/config"
	"github.com/fpang/scholarship-verification/internal/logging"
	"github.com/fpang/scholarship-verification/internal/worker"
)

func main() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	app, err := bootstrap.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Bootstrap failed")
	}

	dispatcher := worker.DispatcherFor(app)
	if dispatcher == nil {
		log.Warn().Msg("WORKER_LAMBDA_ARN not set, runs execute inside the API Lambda")
	}
	svc := worker.FromApp(app, dispatcher)
	handler := api.NewServer(svc, app.Quality, app.Index, cfg.OriginVerifySecret).Handler()

	app.StartupLog("pv-api-lambda", initStart)

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
