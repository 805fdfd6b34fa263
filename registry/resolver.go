/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package registry

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/utils/log"
)

// DefaultAddressKey is the redis key the deploy tooling publishes the contract address to.
const DefaultAddressKey = "blockchain:contract:address"

// AddressResolver returns the registry contract address.
type AddressResolver interface {
	ContractAddress(ctx context.Context) (common.Address, bool)
}

// StaticResolver serves an address fixed by configuration.
type StaticResolver struct {
	addr common.Address
	ok   bool
}

// NewStaticResolver parses addr, an empty addr yields a resolver without address.
func NewStaticResolver(addr string) (*StaticResolver, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return &StaticResolver{}, nil
	}
	if !common.IsHexAddress(addr) {
		return nil, errors.Errorf("invalid contract address: %s", addr)
	}
	return &StaticResolver{addr: common.HexToAddress(addr), ok: true}, nil
}

// ContractAddress implements AddressResolver.ContractAddress.
func (r *StaticResolver) ContractAddress(ctx context.Context) (common.Address, bool) {
	return r.addr, r.ok
}

// RedisResolver reads the address published in redis on every call so redeployments are
// picked up without restart, and falls back to a static resolver.
type RedisResolver struct {
	client   *redis.Client
	key      string
	fallback AddressResolver
}

// NewRedisResolver returns a resolver on key, an empty key selects DefaultAddressKey.
func NewRedisResolver(client *redis.Client, key string, fallback AddressResolver) *RedisResolver {
	if key == "" {
		key = DefaultAddressKey
	}
	if fallback == nil {
		fallback = &StaticResolver{}
	}
	return &RedisResolver{client: client, key: key, fallback: fallback}
}

// ContractAddress implements AddressResolver.ContractAddress.
func (r *RedisResolver) ContractAddress(ctx context.Context) (common.Address, bool) {
	v, err := r.client.WithContext(ctx).Get(r.key).Result()
	switch {
	case err == redis.Nil:
	case err != nil:
		log.WithError(err).WithField("key", r.key).Warning("read contract address from redis failed")
	case !common.IsHexAddress(strings.TrimSpace(v)):
		log.WithFields(log.Fields{"key": r.key, "value": v}).Warning("invalid contract address in redis")
	default:
		return common.HexToAddress(strings.TrimSpace(v)), true
	}
	return r.fallback.ContractAddress(ctx)
}
