package factory

import (
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

var (
	configItem = store.NewItem[msgs.FactoryConfig]("config")
	// metadatas is keyed by (contract name, two version bytes).
	metadatas = store.NewMap[store.Pair, msgs.ContractMetadata]("contract_metadatas", store.PairKey{})
	latest    = store.NewMap[string, [2]uint8]("latest_versions", store.StringKey{})
	pending   = store.NewItem[pendingDeploy]("pending_deploy")

	// contractAddrs lives in core so siblings can raw-query it.
	contractAddrs = core.ContractAddrs
)

// pendingDeploy carries a deploy across its instantiate reply.
type pendingDeploy struct {
	Kind msgs.VersionKind           `json:"kind"`
	Info msgs.ModuleInstantiateInfo `json:"info"`
}

func versionKey(name string, version [2]uint8) store.Pair {
	return store.Pair{A: name, B: string(version[:])}
}

func versionLess(a, b [2]uint8) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}
