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
	"bytes"
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/vericerti/conf"
)

var (
	registerSelector = crypto.Keccak256([]byte("registerHash(bytes32,uint256)"))[:4]
	verifySelector   = crypto.Keccak256([]byte("verifyHash(bytes32)"))[:4]
	testContract     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testHash         = strings.Repeat("ab", 32)
)

// fakeChain emulates a node hosting the registry contract.
type fakeChain struct {
	sync.Mutex
	chainID    *big.Int
	nonce      uint64
	registered map[[HashLength]byte]int64
	tenants    map[[HashLength]byte]int64
	senders    []common.Address
	sendErr    error
	callErr    error
	noCode     bool
	estimated  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		chainID:    big.NewInt(31337),
		registered: make(map[[HashLength]byte]int64),
		tenants:    make(map[[HashLength]byte]int64),
	}
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.Lock()
	defer f.Unlock()
	f.estimated++
	return 90000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.Lock()
	defer f.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	sender, err := ethtypes.Sender(ethtypes.NewEIP155Signer(f.chainID), tx)
	if err != nil {
		return err
	}
	if tx.Nonce() != f.nonce {
		return errors.New("nonce too low")
	}
	data := tx.Data()
	if len(data) != 4+64 || !bytes.Equal(data[:4], registerSelector) {
		return errors.New("execution reverted")
	}
	var h [HashLength]byte
	copy(h[:], data[4:36])
	f.registered[h] = time.Now().Unix()
	f.tenants[h] = new(big.Int).SetBytes(data[36:68]).Int64()
	f.senders = append(f.senders, sender)
	f.nonce++
	return nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.Lock()
	defer f.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.noCode {
		return nil, nil
	}
	if len(msg.Data) != 4+32 || !bytes.Equal(msg.Data[:4], verifySelector) {
		return nil, errors.New("execution reverted")
	}
	var h [HashLength]byte
	copy(h[:], msg.Data[4:36])
	ts, ok := f.registered[h]
	return registryABI.Methods[methodVerify].Outputs.Pack(ok, big.NewInt(ts))
}

func TestNormalizeHash(t *testing.T) {
	Convey("hash normalization", t, func() {
		n, raw, err := NormalizeHash(testHash)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, "0x"+testHash)
		So(raw[0], ShouldEqual, 0xab)

		n2, _, err := NormalizeHash("0X" + strings.ToUpper(testHash))
		So(err, ShouldBeNil)
		So(n2, ShouldEqual, n)

		for _, h := range []string{"", "0x", strings.Repeat("ab", 31), strings.Repeat("ab", 33), strings.Repeat("zz", 32), testHash + "a"} {
			_, _, err = NormalizeHash(h)
			So(errors.Cause(err), ShouldEqual, ErrInvalidHash)
		}
	})
}

func TestEthRegistry(t *testing.T) {
	Convey("given a registry on a fake chain", t, func() {
		ctx := context.Background()
		chain := newFakeChain()
		key, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		resolver, err := NewStaticResolver(testContract)
		So(err, ShouldBeNil)
		r := NewEthRegistry(chain, resolver, EthConfig{PrivateKey: key})

		So(r.Ready(ctx, true), ShouldBeNil)

		Convey("a submitted hash is confirmed", func() {
			c, err := r.Confirm(ctx, testHash)
			So(err, ShouldBeNil)
			So(c.Exists, ShouldBeFalse)
			So(c.Timestamp, ShouldEqual, 0)

			txRef, err := r.Submit(ctx, testHash, 77)
			So(err, ShouldBeNil)
			So(txRef, ShouldStartWith, "0x")
			So(txRef, ShouldHaveLength, 66)
			So(chain.senders, ShouldResemble, []common.Address{crypto.PubkeyToAddress(key.PublicKey)})
			So(chain.estimated, ShouldEqual, 1)

			var h [HashLength]byte
			_, h, _ = NormalizeHash(testHash)
			So(chain.tenants[h], ShouldEqual, 77)

			c, err = r.Confirm(ctx, "0x"+testHash)
			So(err, ShouldBeNil)
			So(c.Exists, ShouldBeTrue)
			So(c.Timestamp, ShouldBeGreaterThan, 0)

			Convey("repeated confirmations report the registration time", func() {
				time.Sleep(1100 * time.Millisecond)
				again, err := r.Confirm(ctx, testHash)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, c)
			})

			Convey("nonces advance between submissions", func() {
				txRef2, err := r.Submit(ctx, strings.Repeat("cd", 32), 77)
				So(err, ShouldBeNil)
				So(txRef2, ShouldNotEqual, txRef)
				So(chain.nonce, ShouldEqual, 2)
			})
		})

		Convey("a configured gas limit skips estimation", func() {
			r := NewEthRegistry(chain, resolver, EthConfig{PrivateKey: key, GasLimit: 120000, ChainID: 31337})
			_, err := r.Submit(ctx, testHash, 1)
			So(err, ShouldBeNil)
			So(chain.estimated, ShouldEqual, 0)
		})

		Convey("a wrong chain id is rejected by the node", func() {
			r := NewEthRegistry(chain, resolver, EthConfig{PrivateKey: key, ChainID: 1})
			_, err := r.Submit(ctx, testHash, 1)
			So(errors.Cause(err), ShouldEqual, ErrTransactionFailed)
		})

		Convey("invalid hashes are rejected before any call", func() {
			_, err := r.Submit(ctx, "0x1234", 1)
			So(errors.Cause(err), ShouldEqual, ErrInvalidHash)
			_, err = r.Confirm(ctx, "0x1234")
			So(errors.Cause(err), ShouldEqual, ErrInvalidHash)
			So(chain.nonce, ShouldEqual, 0)
		})

		Convey("remote failures are classified", func() {
			chain.sendErr = errors.New("insufficient funds")
			_, err := r.Submit(ctx, testHash, 1)
			So(errors.Cause(err), ShouldEqual, ErrTransactionFailed)

			chain.callErr = errors.New("connection refused")
			_, err = r.Confirm(ctx, testHash)
			So(errors.Cause(err), ShouldEqual, ErrVerificationFailed)

			chain.callErr = nil
			chain.noCode = true
			_, err = r.Confirm(ctx, testHash)
			So(errors.Cause(err), ShouldEqual, ErrVerificationFailed)
		})
	})

	Convey("registry readiness", t, func() {
		ctx := context.Background()
		chain := newFakeChain()
		key, _ := crypto.GenerateKey()
		resolver, _ := NewStaticResolver(testContract)

		Convey("without backend", func() {
			r := NewEthRegistry(nil, resolver, EthConfig{PrivateKey: key})
			So(errors.Cause(r.Ready(ctx, false)), ShouldEqual, ErrNotInitialized)
			_, err := r.Submit(ctx, testHash, 1)
			So(errors.Cause(err), ShouldEqual, ErrNotInitialized)
			_, err = r.Confirm(ctx, testHash)
			So(errors.Cause(err), ShouldEqual, ErrNotInitialized)
		})

		Convey("without signing key", func() {
			r := NewEthRegistry(chain, resolver, EthConfig{})
			So(r.Ready(ctx, false), ShouldBeNil)
			So(errors.Cause(r.Ready(ctx, true)), ShouldEqual, ErrNotInitialized)
			_, err := r.Submit(ctx, testHash, 1)
			So(errors.Cause(err), ShouldEqual, ErrNotInitialized)
			_, err = r.Confirm(ctx, testHash)
			So(err, ShouldBeNil)
		})

		Convey("without contract address", func() {
			r := NewEthRegistry(chain, nil, EthConfig{PrivateKey: key})
			So(errors.Cause(r.Ready(ctx, true)), ShouldEqual, ErrContractNotConfigured)
			_, err := r.Submit(ctx, testHash, 1)
			So(errors.Cause(err), ShouldEqual, ErrContractNotConfigured)
			_, err = r.Confirm(ctx, testHash)
			So(errors.Cause(err), ShouldEqual, ErrContractNotConfigured)
		})
	})
}

func TestDial(t *testing.T) {
	Convey("dial without endpoint yields an uninitialized registry", t, func() {
		r, err := Dial(context.Background(), &conf.ChainConfig{}, nil)
		So(err, ShouldBeNil)
		defer r.Close()
		So(errors.Cause(r.Ready(context.Background(), false)), ShouldEqual, ErrNotInitialized)
	})

	Convey("dial rejects a malformed private key", t, func() {
		_, err := Dial(context.Background(), &conf.ChainConfig{PrivateKey: "0xnothex"}, nil)
		So(err, ShouldNotBeNil)
	})

	Convey("private key parsing accepts the 0x prefix", t, func() {
		key, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
		k1, err := ParsePrivateKey("0x" + hexKey)
		So(err, ShouldBeNil)
		So(k1.D.Cmp(key.D), ShouldEqual, 0)
	})
}

func TestResolvers(t *testing.T) {
	Convey("static resolver", t, func() {
		r, err := NewStaticResolver("")
		So(err, ShouldBeNil)
		_, ok := r.ContractAddress(context.Background())
		So(ok, ShouldBeFalse)

		_, err = NewStaticResolver("0x1234")
		So(err, ShouldNotBeNil)
	})

	Convey("redis resolver prefers the published address", t, func() {
		s, err := miniredis.Run()
		So(err, ShouldBeNil)
		defer s.Close()
		client := redis.NewClient(&redis.Options{Addr: s.Addr()})
		defer client.Close()

		fallback, _ := NewStaticResolver(testContract)
		r := NewRedisResolver(client, "", fallback)
		ctx := context.Background()

		addr, ok := r.ContractAddress(ctx)
		So(ok, ShouldBeTrue)
		So(addr, ShouldEqual, common.HexToAddress(testContract))

		published := "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
		So(s.Set(DefaultAddressKey, published), ShouldBeNil)
		addr, ok = r.ContractAddress(ctx)
		So(ok, ShouldBeTrue)
		So(addr, ShouldEqual, common.HexToAddress(published))

		So(s.Set(DefaultAddressKey, "garbage"), ShouldBeNil)
		addr, ok = r.ContractAddress(ctx)
		So(ok, ShouldBeTrue)
		So(addr, ShouldEqual, common.HexToAddress(testContract))

		Convey("without fallback", func() {
			r := NewRedisResolver(client, "other:key", nil)
			_, ok := r.ContractAddress(ctx)
			So(ok, ShouldBeFalse)
		})
	})
}
