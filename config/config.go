/*
Copyright 2025 Payvault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYVAULT_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYVAULT_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYVAULT_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYVAULT_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYVAULT_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYVAULT_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYVAULT_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYVAULT_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYVAULT_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	PayoutQueue          string `json:"payout_queue"`
	WebhookQueue         string `json:"webhook_queue"`
	ReconciliationQueue  string `json:"reconciliation_queue"`
	NumberOfQueues       int    `json:"number_of_queues"`
	MaxRetryAttempts     int    `json:"max_retry_attempts" envconfig:"PAYVAULT_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"PAYVAULT_QUEUE_MONITORING_PORT"`
	InsufficientFundRetries bool `json:"insufficient_fund_retries" envconfig:"PAYVAULT_QUEUE_INSUFFICIENT_FUND_RETRIES"`
}

// ProviderConfig describes the external settlement rail. TenantSecrets maps a
// tenant id to its webhook signing secret; callers that resolve to no tenant
// fall back to the sandbox secret, never to unsigned acceptance.
type ProviderConfig struct {
	BaseURL            string            `json:"base_url" envconfig:"PAYVAULT_PROVIDER_BASE_URL"`
	AuthToken          string            `json:"auth_token" envconfig:"PAYVAULT_PROVIDER_AUTH_TOKEN"`
	TimeoutSec         int               `json:"timeout_sec" envconfig:"PAYVAULT_PROVIDER_TIMEOUT_SEC"`
	ReconcileAfterSec  int               `json:"reconcile_after_sec" envconfig:"PAYVAULT_PROVIDER_RECONCILE_AFTER_SEC"`
	TenantSecrets      map[string]string `json:"tenant_secrets"`
	SandboxSecret      string            `json:"sandbox_secret" envconfig:"PAYVAULT_PROVIDER_SANDBOX_SECRET"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYVAULT_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYVAULT_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYVAULT_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"PAYVAULT_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Provider     ProviderConfig   `json:"provider"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	OtelGrpcUrl  string           `json:"otel_grpc_url" envconfig:"PAYVAULT_OTEL_GRPC_URL"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payvault", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payvault.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Payvault Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.PayoutQueue == "" {
		cnf.Queue.PayoutQueue = "new:payout"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.ReconciliationQueue == "" {
		cnf.Queue.ReconciliationQueue = "new:reconciliation"
	}
	if cnf.Queue.NumberOfQueues == 0 {
		cnf.Queue.NumberOfQueues = 20
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	if cnf.Provider.TimeoutSec == 0 {
		cnf.Provider.TimeoutSec = 30
	}
	if cnf.Provider.ReconcileAfterSec == 0 {
		cnf.Provider.ReconcileAfterSec = 900
	}
	if cnf.Provider.SandboxSecret == "" {
		cnf.Provider.SandboxSecret = "payvault-sandbox"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.validateDefaultsForMock()
	ConfigStore.Store(mockConfig)
}

// validateDefaultsForMock fills queue and provider defaults without the
// required-field checks, so tests can mock partial configurations.
func (cnf *Configuration) validateDefaultsForMock() {
	if cnf.Queue.PayoutQueue == "" {
		cnf.Queue.PayoutQueue = "new:payout"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.ReconciliationQueue == "" {
		cnf.Queue.ReconciliationQueue = "new:reconciliation"
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Provider.TimeoutSec == 0 {
		cnf.Provider.TimeoutSec = 30
	}
	if cnf.Provider.ReconcileAfterSec == 0 {
		cnf.Provider.ReconcileAfterSec = 900
	}
	if cnf.Provider.SandboxSecret == "" {
		cnf.Provider.SandboxSecret = "payvault-sandbox"
	}
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
