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

// Package conf loads the daemon configuration.
package conf

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	validator "gopkg.in/go-playground/validator.v9"
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/vericerti/utils"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// Queue backends.
const (
	QueueBackendMemory  = "memory"
	QueueBackendLevelDB = "leveldb"
	QueueBackendRedis   = "redis"
)

// Defaults assumed for missing options.
const (
	DefaultListenAddr        = "127.0.0.1:8546"
	DefaultWorkingRoot       = "~/.vericerti"
	DefaultStorePath         = "ledger.db"
	DefaultFilesRoot         = "files"
	DefaultQueuePath         = "queue"
	DefaultCallTimeout       = 15 * time.Second
	DefaultSubmitInterval    = time.Minute
	DefaultVerifyInterval    = 5 * time.Minute
	DefaultReconcileSchedule = "0 6,18 * * *"
	DefaultMaxVerifyAttempts = 3
	DefaultHashCacheSize     = 1024
)

// Environment variables overriding the config file, secrets usually come from here.
const (
	EnvChainEndpoint   = "VERICERTI_CHAIN_ENDPOINT"
	EnvChainPrivateKey = "VERICERTI_CHAIN_PRIVATE_KEY"
	EnvChainContract   = "VERICERTI_CHAIN_CONTRACT_ADDRESS"
	EnvAdminToken      = "VERICERTI_ADMIN_TOKEN"
	EnvRedisAddr       = "VERICERTI_REDIS_ADDR"
)

// LogConfig defines the process logger options.
type LogConfig struct {
	Level  string `yaml:"Level" validate:"omitempty,oneof=panic fatal error warn warning info debug"`
	Format string `yaml:"Format" validate:"omitempty,oneof=text json"`
}

// ChainConfig defines the hash registry connection. Without an endpoint the registry stays
// uninitialized, without a private key it is read only.
type ChainConfig struct {
	Endpoint           string        `yaml:"Endpoint" validate:"omitempty,url"`
	PrivateKey         string        `yaml:"PrivateKey"`
	ContractAddress    string        `yaml:"ContractAddress"`
	ContractAddressKey string        `yaml:"ContractAddressKey"` // redis key published by the deploy tooling
	ChainID            int64         `yaml:"ChainID" validate:"gte=0"`
	GasLimit           uint64        `yaml:"GasLimit"`
	CallTimeout        time.Duration `yaml:"CallTimeout"`
}

// Configured reports whether the chain endpoint is set.
func (c *ChainConfig) Configured() bool {
	return c.Endpoint != ""
}

// StoreConfig defines the ledger record database.
type StoreConfig struct {
	Path string `yaml:"Path"`
}

// FilesConfig defines the local document store.
type FilesConfig struct {
	Root string `yaml:"Root"`
}

// QueueConfig defines the pending verification queue backend.
type QueueConfig struct {
	Backend string `yaml:"Backend" validate:"oneof=memory leveldb redis"`
	Path    string `yaml:"Path"`
	Key     string `yaml:"Key"`
}

// RedisConfig defines the redis connection shared by the queue and the address resolver.
type RedisConfig struct {
	Addr     string `yaml:"Addr"`
	Password string `yaml:"Password"`
	DB       int    `yaml:"DB" validate:"gte=0"`
}

// SyncConfig defines the synchronization schedules.
type SyncConfig struct {
	SubmitInterval    time.Duration `yaml:"SubmitInterval"`
	VerifyInterval    time.Duration `yaml:"VerifyInterval"`
	ReconcileSchedule string        `yaml:"ReconcileSchedule"`
	MaxVerifyAttempts int           `yaml:"MaxVerifyAttempts" validate:"gte=1"`
	ManualWriteBack   bool          `yaml:"ManualWriteBack"`
	HashCacheSize     int           `yaml:"HashCacheSize" validate:"gte=1"`
}

// MetricsConfig defines the go-metrics reporters, zero values disable them.
type MetricsConfig struct {
	LogInterval  time.Duration `yaml:"LogInterval"`
	GraphiteAddr string        `yaml:"GraphiteAddr"`
}

// Config defines the configurable options of the ledger synchronization daemon.
type Config struct {
	ListenAddr  string `yaml:"ListenAddr" validate:"required"`
	AdminToken  string `yaml:"AdminToken"`
	WorkingRoot string `yaml:"WorkingRoot"`

	Log     LogConfig     `yaml:"Log"`
	Chain   ChainConfig   `yaml:"Chain"`
	Store   StoreConfig   `yaml:"Store"`
	Files   FilesConfig   `yaml:"Files"`
	Queue   QueueConfig   `yaml:"Queue"`
	Redis   RedisConfig   `yaml:"Redis"`
	Sync    SyncConfig    `yaml:"Sync"`
	Metrics MetricsConfig `yaml:"Metrics"`
}

// LoadConfig reads the yaml config file and normalizes it.
func LoadConfig(configPath string) (config *Config, err error) {
	var configBytes []byte
	if configBytes, err = ioutil.ReadFile(configPath); err != nil {
		log.WithError(err).Error("read config file failed")
		return
	}

	return ParseConfig(configBytes)
}

// ParseConfig parses yaml config bytes and normalizes the result.
func ParseConfig(configBytes []byte) (config *Config, err error) {
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		log.WithError(err).Error("unmarshal config file failed")
		return nil, err
	}

	if err = config.Normalize(); err != nil {
		return nil, err
	}

	return
}

// Normalize applies environment overrides and defaults, then validates the config.
func (c *Config) Normalize() (err error) {
	c.applyEnv()
	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		EnvChainEndpoint:   &c.Chain.Endpoint,
		EnvChainPrivateKey: &c.Chain.PrivateKey,
		EnvChainContract:   &c.Chain.ContractAddress,
		EnvAdminToken:      &c.AdminToken,
		EnvRedisAddr:       &c.Redis.Addr,
	} {
		if v, ok := os.LookupEnv(env); ok {
			*field = strings.TrimSpace(v)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		log.Warningf("ListenAddr is not defined, %s assumed", DefaultListenAddr)
		c.ListenAddr = DefaultListenAddr
	}
	if c.WorkingRoot == "" {
		c.WorkingRoot = DefaultWorkingRoot
	}
	c.WorkingRoot = utils.HomeDirExpand(c.WorkingRoot)

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	c.Store.Path = utils.ResolvePath(c.WorkingRoot, c.Store.Path)
	if c.Files.Root == "" {
		c.Files.Root = DefaultFilesRoot
	}
	c.Files.Root = utils.ResolvePath(c.WorkingRoot, c.Files.Root)

	if c.Queue.Backend == "" {
		log.Warningf("Queue.Backend is not defined, %s assumed", QueueBackendLevelDB)
		c.Queue.Backend = QueueBackendLevelDB
	}
	c.Queue.Backend = strings.ToLower(c.Queue.Backend)
	if c.Queue.Backend == QueueBackendLevelDB {
		if c.Queue.Path == "" {
			c.Queue.Path = DefaultQueuePath
		}
		c.Queue.Path = utils.ResolvePath(c.WorkingRoot, c.Queue.Path)
	}

	if c.Chain.CallTimeout <= 0 {
		c.Chain.CallTimeout = DefaultCallTimeout
	}
	if !c.Chain.Configured() {
		log.Warning("Chain.Endpoint is not defined, every synchronization run will be skipped")
	} else if c.Chain.PrivateKey == "" {
		log.Warning("Chain.PrivateKey is not defined, hash submission is disabled")
	}

	if c.Sync.SubmitInterval <= 0 {
		log.Warningf("a valid Sync.SubmitInterval is required, %s assumed", DefaultSubmitInterval)
		c.Sync.SubmitInterval = DefaultSubmitInterval
	}
	if c.Sync.VerifyInterval <= 0 {
		log.Warningf("a valid Sync.VerifyInterval is required, %s assumed", DefaultVerifyInterval)
		c.Sync.VerifyInterval = DefaultVerifyInterval
	}
	if c.Sync.VerifyInterval <= c.Sync.SubmitInterval {
		log.WithFields(log.Fields{
			"submit": c.Sync.SubmitInterval,
			"verify": c.Sync.VerifyInterval,
		}).Warning("verify interval should be longer than submit interval to leave time for finality")
	}
	if c.Sync.ReconcileSchedule == "" {
		c.Sync.ReconcileSchedule = DefaultReconcileSchedule
	}
	if c.Sync.MaxVerifyAttempts == 0 {
		c.Sync.MaxVerifyAttempts = DefaultMaxVerifyAttempts
	}
	if c.Sync.HashCacheSize == 0 {
		c.Sync.HashCacheSize = DefaultHashCacheSize
	}
}

// Validate checks field constraints and cross field dependencies.
func (c *Config) Validate() (err error) {
	if err = validator.New().Struct(c); err != nil {
		log.WithError(err).Error("validate config failed")
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	needRedis := c.Queue.Backend == QueueBackendRedis || c.Chain.ContractAddressKey != ""
	if needRedis && c.Redis.Addr == "" {
		err = errors.Wrap(ErrInvalidConfig, "Redis.Addr is required by the redis queue or contract address key")
		log.WithError(err).Error("validate config failed")
		return
	}

	return
}
