// Package bootstrap wires the verification service from configuration.
//
// Every binary (HTTP server, CLI, API Lambda, worker Lambda) needs the same
// graph: model clients, the case index, the job store, the records
// database, and a handful of AWS clients. Build constructs that graph once
// and App.Close tears it down in reverse order.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/logging"
)

// ParamGetter reads SSM parameters.
type ParamGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// InitAWS loads the default AWS config, overriding the region when given.
func InitAWS(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// LoadSecret returns current when it is already set. Otherwise it reads the
// decrypted SSM parameter; an empty paramName leaves the secret unset.
func LoadSecret(ctx context.Context, client ParamGetter, current, paramName string) (string, error) {
	if current != "" || paramName == "" {
		return current, nil
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", paramName, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", paramName)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return *out.Parameter.Value, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
