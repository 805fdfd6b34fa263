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
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// RegistryABI is the interface of the deployed hash registry contract.
const RegistryABI = `[
	{
		"type": "function",
		"name": "registerHash",
		"constant": false,
		"inputs": [
			{"name": "dataHash", "type": "bytes32"},
			{"name": "orgId", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "verifyHash",
		"constant": true,
		"inputs": [
			{"name": "dataHash", "type": "bytes32"}
		],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "timestamp", "type": "uint256"}
		]
	},
	{
		"type": "event",
		"name": "HashRegistered",
		"anonymous": false,
		"inputs": [
			{"name": "dataHash", "type": "bytes32", "indexed": true},
			{"name": "orgId", "type": "uint256", "indexed": true},
			{"name": "timestamp", "type": "uint256", "indexed": false}
		]
	}
]`

const (
	methodRegister = "registerHash"
	methodVerify   = "verifyHash"
)

var registryABI abi.ABI

func init() {
	var err error
	if registryABI, err = abi.JSON(strings.NewReader(RegistryABI)); err != nil {
		panic(err)
	}
}
