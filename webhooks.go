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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/payvault/payvault/config"
)

// Outbound event names.
const (
	EventTransferApplied   = "transfer.applied"
	EventTransferFailed    = "transfer.failed"
	EventInsufficientFunds = "wallet.insufficient_funds"
	EventPayoutCompleted   = "payout.completed"
	EventPayoutFailed      = "payout.failed"
	EventBatchCompleted    = "payout_batch.completed"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// queueWebhook enqueues an outbound notification for the event. Delivery is
// best effort and asynchronous; a delivery problem never fails the ledger
// operation that produced the event.
func (p *Payvault) queueWebhook(ctx context.Context, event string, payload interface{}) {
	if p.queue == nil {
		return
	}
	conf, err := config.Fetch()
	if err != nil || conf.Notification.Webhook.Url == "" {
		return
	}
	body, err := json.Marshal(NewWebhook{Event: event, Payload: payload})
	if err != nil {
		logrus.Errorf("failed to encode webhook for event %s: %v", event, err)
		return
	}
	if err := p.queue.queueWebhookTask(ctx, body); err != nil {
		logrus.Errorf("failed to queue webhook for event %s: %v", event, err)
	}
}

// processHTTP sends a webhook notification via HTTP POST request.
func processHTTP(data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Webhook delivery failed with status code: %d\n", resp.StatusCode)
		return nil
	}
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", payload.Event)
	return processHTTP(payload)
}
