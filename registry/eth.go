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
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/conf"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// Backend defines the chain calls used by EthRegistry, *ethclient.Client provides all of
// them except ChainID.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type rpcBackend struct {
	*ethclient.Client
	raw *rpc.Client
}

// ChainID reads eth_chainId from the node.
func (b *rpcBackend) ChainID(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := b.raw.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return result.ToInt(), nil
}

// EthConfig defines the optional settings of an EthRegistry.
type EthConfig struct {
	PrivateKey *ecdsa.PrivateKey // nil makes the registry read only
	ChainID    int64             // zero reads eth_chainId from the node
	GasLimit   uint64            // zero estimates gas for every transaction
}

// EthRegistry is a Client backed by the hash registry contract on an ethereum compatible chain.
type EthRegistry struct {
	backend  Backend
	resolver AddressResolver
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
	closer   func()

	chainIDLock sync.Mutex
	chainID     *big.Int

	// serializes nonce allocation and send
	sendLock sync.Mutex
}

// NewEthRegistry returns a registry on backend, a nil backend yields a registry answering
// ErrNotInitialized to every call.
func NewEthRegistry(backend Backend, resolver AddressResolver, cfg EthConfig) *EthRegistry {
	r := &EthRegistry{
		backend:  backend,
		resolver: resolver,
		key:      cfg.PrivateKey,
		gasLimit: cfg.GasLimit,
	}
	if r.resolver == nil {
		r.resolver = &StaticResolver{}
	}
	if cfg.PrivateKey != nil {
		r.from = crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey)
	}
	if cfg.ChainID > 0 {
		r.chainID = big.NewInt(cfg.ChainID)
	}
	return r
}

// ParsePrivateKey decodes a hex encoded secp256k1 private key, the 0x prefix is optional.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key failed")
	}
	return key, nil
}

// Dial connects the registry described by cfg. A missing endpoint is not an error: the
// returned registry stays uninitialized so schedulers degrade to no-ops.
func Dial(ctx context.Context, cfg *conf.ChainConfig, resolver AddressResolver) (r *EthRegistry, err error) {
	var ethCfg = EthConfig{
		ChainID:  cfg.ChainID,
		GasLimit: cfg.GasLimit,
	}
	if cfg.PrivateKey != "" {
		if ethCfg.PrivateKey, err = ParsePrivateKey(cfg.PrivateKey); err != nil {
			return
		}
	}
	if !cfg.Configured() {
		return NewEthRegistry(nil, resolver, ethCfg), nil
	}

	var raw *rpc.Client
	if raw, err = rpc.DialContext(ctx, cfg.Endpoint); err != nil {
		err = errors.Wrapf(err, "dial chain endpoint %s failed", cfg.Endpoint)
		return
	}
	r = NewEthRegistry(&rpcBackend{Client: ethclient.NewClient(raw), raw: raw}, resolver, ethCfg)
	r.closer = raw.Close

	log.WithFields(log.Fields{
		"endpoint": cfg.Endpoint,
		"writable": ethCfg.PrivateKey != nil,
		"from":     r.from.Hex(),
	}).Info("hash registry connected")
	return
}

// Close releases the chain connection.
func (r *EthRegistry) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// Ready implements Client.Ready.
func (r *EthRegistry) Ready(ctx context.Context, writable bool) error {
	_, err := r.contract(ctx, writable)
	return err
}

func (r *EthRegistry) contract(ctx context.Context, writable bool) (addr common.Address, err error) {
	if r.backend == nil {
		err = errors.Wrap(ErrNotInitialized, "no chain endpoint")
		return
	}
	if writable && r.key == nil {
		err = errors.Wrap(ErrNotInitialized, "no signing key")
		return
	}
	var ok bool
	if addr, ok = r.resolver.ContractAddress(ctx); !ok {
		err = ErrContractNotConfigured
	}
	return
}

func (r *EthRegistry) getChainID(ctx context.Context) (*big.Int, error) {
	r.chainIDLock.Lock()
	defer r.chainIDLock.Unlock()
	if r.chainID != nil {
		return r.chainID, nil
	}
	id, err := r.backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get chain id failed")
	}
	r.chainID = id
	return id, nil
}

// Submit implements Client.Submit.
func (r *EthRegistry) Submit(ctx context.Context, hash string, tenantID int64) (txRef string, err error) {
	defer func() {
		if err != nil {
			submitFailMeter.Mark(1)
		} else {
			submitSuccMeter.Mark(1)
		}
	}()

	var contract common.Address
	if contract, err = r.contract(ctx, true); err != nil {
		return
	}
	var raw [HashLength]byte
	if hash, raw, err = NormalizeHash(hash); err != nil {
		return
	}
	var data []byte
	if data, err = registryABI.Pack(methodRegister, raw, big.NewInt(tenantID)); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "pack call data: %v", err)
		return
	}

	var chainID *big.Int
	if chainID, err = r.getChainID(ctx); err != nil {
		err = errors.Wrap(ErrTransactionFailed, err.Error())
		return
	}

	r.sendLock.Lock()
	defer r.sendLock.Unlock()

	var (
		nonce    uint64
		gasPrice *big.Int
		gasLimit = r.gasLimit
	)
	if nonce, err = r.backend.PendingNonceAt(ctx, r.from); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "get nonce: %v", err)
		return
	}
	if gasPrice, err = r.backend.SuggestGasPrice(ctx); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "suggest gas price: %v", err)
		return
	}
	if gasLimit == 0 {
		msg := ethereum.CallMsg{From: r.from, To: &contract, GasPrice: gasPrice, Data: data}
		if gasLimit, err = r.backend.EstimateGas(ctx, msg); err != nil {
			err = errors.Wrapf(ErrTransactionFailed, "estimate gas: %v", err)
			return
		}
	}

	tx := ethtypes.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, data)
	var signed *ethtypes.Transaction
	if signed, err = ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), r.key); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "sign transaction: %v", err)
		return
	}
	if err = r.backend.SendTransaction(ctx, signed); err != nil {
		err = errors.Wrapf(ErrTransactionFailed, "send transaction: %v", err)
		return
	}

	txRef = signed.Hash().Hex()
	log.WithFields(log.Fields{
		"hash":  hash,
		"tx":    txRef,
		"nonce": nonce,
		"gas":   gasLimit,
	}).Debug("hash registration sent")
	return
}

type verifyResult struct {
	Exists    bool
	Timestamp *big.Int
}

// Confirm implements Client.Confirm.
func (r *EthRegistry) Confirm(ctx context.Context, hash string) (c Confirmation, err error) {
	defer func() {
		switch {
		case err != nil:
			confirmFailMeter.Mark(1)
		case c.Exists:
			confirmSuccMeter.Mark(1)
		default:
			confirmMissMeter.Mark(1)
		}
	}()

	var contract common.Address
	if contract, err = r.contract(ctx, false); err != nil {
		return
	}
	var raw [HashLength]byte
	if _, raw, err = NormalizeHash(hash); err != nil {
		return
	}
	var data []byte
	if data, err = registryABI.Pack(methodVerify, raw); err != nil {
		err = errors.Wrapf(ErrVerificationFailed, "pack call data: %v", err)
		return
	}

	var out []byte
	if out, err = r.backend.CallContract(ctx, ethereum.CallMsg{From: r.from, To: &contract, Data: data}, nil); err != nil {
		err = errors.Wrapf(ErrVerificationFailed, "call contract: %v", err)
		return
	}
	if len(out) == 0 {
		err = errors.Wrapf(ErrVerificationFailed, "no contract code at %s", contract.Hex())
		return
	}

	var res verifyResult
	if err = registryABI.Unpack(&res, methodVerify, out); err != nil {
		err = errors.Wrapf(ErrVerificationFailed, "unpack result: %v", err)
		return
	}
	c.Exists = res.Exists
	if c.Exists && res.Timestamp != nil {
		c.Timestamp = res.Timestamp.Int64()
	}
	return
}
