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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
	"go.opentelemetry.io/otel"

	"github.com/payvault/payvault"
	"github.com/payvault/payvault/config"
	redis_db "github.com/payvault/payvault/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

const reconciliationInterval = 5 * time.Minute

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// processPayout settles one queued payout record. Errors bubble back to
// asynq for retry; business failures such as insufficient funds are absorbed
// inside the engine by failing the payout, so they do not retry.
func (b *payvaultInstance) processPayout(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("payvault.payouts.worker").Start(ctx, "Process Payout From Redis Queue")
	defer span.End()

	var payload payvault.PayoutTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.payvault.ProcessPayout(ctx, payload.PayoutID, "worker"); err != nil {
		logrus.Infof("Payout %s pushed back for retry due to error: %v", payload.PayoutID, err)
		return err
	}

	log.Println(" [*] Payout Processed", payload.PayoutID)
	return nil
}

// processReconciliation runs the periodic sweep: release reservations of
// interrupted transfers, settle stale provider initiations, and poll the
// provider for payouts stuck in PROCESSING.
func (b *payvaultInstance) processReconciliation(ctx context.Context, _ *asynq.Task) error {
	if err := b.payvault.RecoverPendingTransfers(ctx); err != nil {
		return err
	}
	if err := b.payvault.RecoverPendingInitiations(ctx); err != nil {
		return err
	}
	return b.payvault.ReconcileStuckPayouts(ctx)
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.PayoutQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 3
	queues[cfg.Queue.ReconciliationQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *payvaultInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.PayoutQueue, b.processPayout)
	mux.HandleFunc(cfg.Queue.WebhookQueue, payvault.ProcessWebhook)
	mux.HandleFunc(cfg.Queue.ReconciliationQueue, b.processReconciliation)
}

// scheduleReconciliation enqueues the sweep task on a fixed interval. The
// task id deduplicates the sweep when several worker processes run.
func scheduleReconciliation(ctx context.Context, client *asynq.Client, conf *config.Configuration) {
	ticker := time.NewTicker(reconciliationInterval)
	go func() {
		for range ticker.C {
			task := asynq.NewTask(conf.Queue.ReconciliationQueue, nil,
				asynq.Queue(conf.Queue.ReconciliationQueue),
				asynq.TaskID(fmt.Sprintf("reconciliation:%d", time.Now().Unix()/int64(reconciliationInterval.Seconds()))))
			if _, err := client.EnqueueContext(ctx, task); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
				log.Printf("Failed to enqueue reconciliation sweep: %v", err)
			}
		}
	}()
}

// workerCommands defines the "workers" command that consumes the payout,
// webhook and reconciliation queues.
func workerCommands(b *payvaultInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start payvault workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeTracing(ctx)
			if err != nil {
				log.Printf("Tracing disabled: %v", err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			scheduleReconciliation(ctx, payvault.NewQueue(conf).Client, conf)

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
