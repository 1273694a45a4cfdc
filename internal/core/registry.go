package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"croncat/internal/chain"
	"croncat/internal/store"
)

// Registered contract names.
const (
	FactoryName = "factory"
	ManagerName = "manager"
	TasksName   = "tasks"
	AgentsName  = "agents"
)

// ContractKey resolves a sibling contract through the factory.
type ContractKey struct {
	Name    string   `json:"name"`
	Version [2]uint8 `json:"version"`
}

func (k ContractKey) String() string {
	return k.Name + "@" + VersionString(k.Version)
}

// VersionString renders [0,1] as "0.1".
func VersionString(v [2]uint8) string {
	return strconv.Itoa(int(v[0])) + "." + strconv.Itoa(int(v[1]))
}

// ParseVersion reads "major.minor" into the registry's two-byte version.
func ParseVersion(s string) ([2]uint8, error) {
	var out [2]uint8
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return out, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	for i := 0; i < 2; i++ {
		n, err := strconv.ParseUint(parts[i], 10, 8)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		out[i] = uint8(n)
	}
	return out, nil
}

// ContractAddrs is the factory's (name, version) -> address index. It is
// declared here so other contracts can read it with a raw query without
// depending on the factory package.
var ContractAddrs = store.NewMap[store.Pair, string]("contract_addrs", store.PairKey{})

// ContractAddrKey is the raw storage key of an entry in ContractAddrs.
func ContractAddrKey(name string, version [2]uint8) []byte {
	return ContractAddrs.Key(store.Pair{A: name, B: string(version[:])})
}

// ResolveContract looks key up in the factory's storage.
func ResolveContract(ctx context.Context, q chain.Querier, factory string, key ContractKey) (string, error) {
	raw, err := q.QueryRaw(ctx, factory, ContractAddrKey(key.Name, key.Version))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", fmt.Errorf("%w: %s", ErrContractNotFound, key)
	}
	var addr string
	if err := json.Unmarshal(raw, &addr); err != nil {
		return "", fmt.Errorf("decode %s address: %w", key, err)
	}
	return addr, nil
}
