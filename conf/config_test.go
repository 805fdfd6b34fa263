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

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

const fullConfig = `
ListenAddr: "0.0.0.0:9000"
AdminToken: "s3cret"
WorkingRoot: "/var/lib/vericerti"
Log:
  Level: debug
  Format: json
Chain:
  Endpoint: "http://127.0.0.1:8545"
  PrivateKey: "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
  ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  ContractAddressKey: "blockchain:contract:address"
  ChainID: 31337
  GasLimit: 120000
  CallTimeout: 5s
Store:
  Path: "db/ledger.db"
Queue:
  Backend: redis
  Key: "blockchain:pending:verification"
Redis:
  Addr: "127.0.0.1:6379"
  DB: 2
Sync:
  SubmitInterval: 30s
  VerifyInterval: 2m
  ReconcileSchedule: "0 */6 * * *"
  MaxVerifyAttempts: 5
  ManualWriteBack: true
Metrics:
  LogInterval: 1m
`

func TestParseConfig(t *testing.T) {
	Convey("full config", t, func() {
		c, err := ParseConfig([]byte(fullConfig))
		So(err, ShouldBeNil)
		So(c.ListenAddr, ShouldEqual, "0.0.0.0:9000")
		So(c.Log.Format, ShouldEqual, "json")
		So(c.Chain.ChainID, ShouldEqual, 31337)
		So(c.Chain.CallTimeout, ShouldEqual, 5*time.Second)
		So(c.Chain.Configured(), ShouldBeTrue)
		So(c.Store.Path, ShouldEqual, "/var/lib/vericerti/db/ledger.db")
		So(c.Files.Root, ShouldEqual, "/var/lib/vericerti/files")
		So(c.Queue.Backend, ShouldEqual, QueueBackendRedis)
		So(c.Queue.Path, ShouldBeEmpty)
		So(c.Redis.DB, ShouldEqual, 2)
		So(c.Sync.SubmitInterval, ShouldEqual, 30*time.Second)
		So(c.Sync.VerifyInterval, ShouldEqual, 2*time.Minute)
		So(c.Sync.ReconcileSchedule, ShouldEqual, "0 */6 * * *")
		So(c.Sync.MaxVerifyAttempts, ShouldEqual, 5)
		So(c.Sync.ManualWriteBack, ShouldBeTrue)
		So(c.Sync.HashCacheSize, ShouldEqual, DefaultHashCacheSize)
		So(c.Metrics.LogInterval, ShouldEqual, time.Minute)
	})

	Convey("empty config gets defaults", t, func() {
		c, err := ParseConfig([]byte("WorkingRoot: /tmp/vericerti\n"))
		So(err, ShouldBeNil)
		So(c.ListenAddr, ShouldEqual, DefaultListenAddr)
		So(c.Queue.Backend, ShouldEqual, QueueBackendLevelDB)
		So(c.Queue.Path, ShouldEqual, "/tmp/vericerti/queue")
		So(c.Store.Path, ShouldEqual, "/tmp/vericerti/ledger.db")
		So(c.Chain.CallTimeout, ShouldEqual, DefaultCallTimeout)
		So(c.Chain.Configured(), ShouldBeFalse)
		So(c.Sync.SubmitInterval, ShouldEqual, DefaultSubmitInterval)
		So(c.Sync.VerifyInterval, ShouldEqual, DefaultVerifyInterval)
		So(c.Sync.ReconcileSchedule, ShouldEqual, DefaultReconcileSchedule)
		So(c.Sync.MaxVerifyAttempts, ShouldEqual, DefaultMaxVerifyAttempts)
		So(c.Sync.ManualWriteBack, ShouldBeFalse)
	})

	Convey("invalid configs are rejected", t, func() {
		for _, raw := range []string{
			"Queue:\n  Backend: kafka\n",
			"Queue:\n  Backend: redis\n",
			"Chain:\n  ContractAddressKey: blockchain:contract:address\n",
			"Chain:\n  Endpoint: not a url\n",
			"Log:\n  Format: xml\n",
			"Sync:\n  MaxVerifyAttempts: -1\n",
		} {
			_, err := ParseConfig([]byte(raw))
			So(errors.Cause(err), ShouldEqual, ErrInvalidConfig)
		}

		_, err := ParseConfig([]byte("ListenAddr: [\n"))
		So(err, ShouldNotBeNil)
	})
}

func TestEnvOverrides(t *testing.T) {
	Convey("environment overrides secrets", t, func() {
		So(os.Setenv(EnvChainEndpoint, "http://10.0.0.1:8545"), ShouldBeNil)
		So(os.Setenv(EnvChainPrivateKey, " abcd "), ShouldBeNil)
		So(os.Setenv(EnvAdminToken, "from-env"), ShouldBeNil)
		defer func() {
			_ = os.Unsetenv(EnvChainEndpoint)
			_ = os.Unsetenv(EnvChainPrivateKey)
			_ = os.Unsetenv(EnvAdminToken)
		}()

		c, err := ParseConfig([]byte(fullConfig))
		So(err, ShouldBeNil)
		So(c.Chain.Endpoint, ShouldEqual, "http://10.0.0.1:8545")
		So(c.Chain.PrivateKey, ShouldEqual, "abcd")
		So(c.AdminToken, ShouldEqual, "from-env")
		So(c.Redis.Addr, ShouldEqual, "127.0.0.1:6379")
	})
}

func TestLoadConfig(t *testing.T) {
	Convey("load config from file", t, func() {
		dir, err := ioutil.TempDir("", "vericerti-conf")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "config.yaml")
		So(ioutil.WriteFile(path, []byte(fullConfig), 0600), ShouldBeNil)
		c, err := LoadConfig(path)
		So(err, ShouldBeNil)
		So(c.AdminToken, ShouldEqual, "s3cret")

		_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}
