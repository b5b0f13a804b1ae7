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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/database"
	redis_db "github.com/payvault/payvault/internal/redis-db"
)

// Payvault is the wallet ledger and payout execution engine. The data-access
// handle, redis client and queue are injected at construction; their
// lifecycle belongs to the owning process.
type Payvault struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	provider   ExecutionProvider
}

// NewPayvault initializes the engine with the provided datasource. Redis,
// queue and the execution provider adapter come from configuration.
func NewPayvault(db database.IDataSource) (*Payvault, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	provider := NewHTTPProvider(configuration)

	newPayvault := &Payvault{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		provider:   provider,
	}
	return newPayvault, nil
}

// WithProvider swaps the execution provider adapter. Used by the demo path
// and by tests.
func (p *Payvault) WithProvider(provider ExecutionProvider) *Payvault {
	p.provider = provider
	return p
}
