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

package payvault

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/hibiken/asynq"

	"github.com/payvault/payvault/config"
	redis_db "github.com/payvault/payvault/internal/redis-db"
)

// Queue dispatches payout, webhook and reconciliation tasks to workers.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// PayoutTaskPayload is the body of one queued payout task.
type PayoutTaskPayload struct {
	PayoutID string `json:"payout_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queuePayout enqueues one payout for settlement. The task id is the payout
// id, so asynq deduplicates a payout that is queued twice.
func (q *Queue) queuePayout(ctx context.Context, payoutID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(PayoutTaskPayload{PayoutID: payoutID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(payoutID),
		asynq.Queue(cfg.Queue.PayoutQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.PayoutQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued payout: %+v", payoutID)
	return nil
}

// queueWebhookTask enqueues an outbound event delivery.
func (q *Queue) queueWebhookTask(ctx context.Context, payload []byte) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, asynq.Queue(cfg.Queue.WebhookQueue), asynq.MaxRetry(cfg.Queue.MaxRetryAttempts))
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
