// Package config hydrates the process environment and reads server settings
// from it.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// SecretFetcher is the subset of the Secrets Manager client LoadEnv uses.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadEnv pulls secrets from AWS Secrets Manager (if configured), then the
// YAML file named by MCP_CONFIG_FILE, then local .env files. Earlier sources
// win unless their overwrite flag is set.
func LoadEnv(ctx context.Context, defaultEnvPath string) {
	if secretID := secretIDFromEnv(); secretID != "" {
		cfg, err := loadAWSConfig(ctx, os.Getenv("AWS_SECRETS_MANAGER_REGION"))
		if err != nil {
			log.Warn().Err(err).Msg("skipping AWS Secrets Manager load")
		} else if err := LoadAWSSecrets(ctx, secretsmanager.NewFromConfig(cfg), secretID); err != nil {
			log.Warn().Err(err).Msg("skipping AWS Secrets Manager load")
		}
	}

	if path := os.Getenv("MCP_CONFIG_FILE"); path != "" {
		if err := LoadYAMLFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping config file")
		}
	}

	loadDotEnv(defaultEnvPath)
}

func loadDotEnv(defaultEnvPath string) {
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = defaultEnvPath
	}

	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// Orchestrators inject env directly.
			if os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
				log.Debug().Str("path", envFile).Msg(".env file not found, using system environment")
			}
		}
	}
}

func secretIDFromEnv() string {
	if id := os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID"); id != "" {
		return id
	}
	return os.Getenv("AWS_SECRET_ID")
}

// LoadAWSSecrets reads a JSON object secret and applies its keys to the
// environment.
func LoadAWSSecrets(ctx context.Context, client SecretFetcher, secretID string) error {
	versionStage := os.Getenv("AWS_SECRETS_MANAGER_VERSION_STAGE")
	if versionStage == "" {
		versionStage = "AWSCURRENT"
	}
	overwrite := strings.EqualFold(os.Getenv("AWS_SECRETS_MANAGER_OVERWRITE"), "true")

	output, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", secretID, err)
	}

	var payload string
	switch {
	case output.SecretString != nil:
		payload = *output.SecretString
	case len(output.SecretBinary) > 0:
		payload = string(output.SecretBinary)
	default:
		return fmt.Errorf("secret %s has no payload", secretID)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("parsing secret %s as JSON: %w", secretID, err)
	}

	applied, err := applyEnv(values, overwrite)
	if err != nil {
		return err
	}
	log.Info().Int("applied", applied).Str("secret_id", secretID).Bool("overwrite", overwrite).Msg("loaded env from AWS Secrets Manager")
	return nil
}

// LoadYAMLFile applies a flat YAML mapping of env names to values. Existing
// variables are kept.
func LoadYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	applied, err := applyEnv(values, false)
	if err != nil {
		return err
	}
	log.Debug().Int("applied", applied).Str("path", path).Msg("loaded env from config file")
	return nil
}

func applyEnv(values map[string]any, overwrite bool) (int, error) {
	applied := 0
	for key, val := range values {
		if val == nil {
			continue
		}
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return applied, fmt.Errorf("setting env %s: %w", key, err)
		}
		applied++
	}
	return applied, nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region != "" {
		return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx)
}
