package msgs

import (
	"encoding/json"

	"croncat/internal/chain"
)

// VersionKind classifies a deployed module.
type VersionKind string

const (
	KindManager VersionKind = "manager"
	KindTasks   VersionKind = "tasks"
	KindAgents  VersionKind = "agents"
	KindLibrary VersionKind = "library"
)

type FactoryInstantiateMsg struct {
	OwnerAddr *string `json:"owner_addr,omitempty"`
}

type FactoryConfig struct {
	OwnerAddr string `json:"owner_addr"`
	Paused    bool   `json:"paused"`
}

// ModuleInstantiateInfo describes a module the factory should deploy.
type ModuleInstantiateInfo struct {
	CodeID       uint64          `json:"code_id"`
	Version      [2]uint8        `json:"version"`
	CommitID     string          `json:"commit_id"`
	Checksum     string          `json:"checksum"`
	ChangelogURL *string         `json:"changelog_url,omitempty"`
	Schema       *string         `json:"schema,omitempty"`
	Msg          json.RawMessage `json:"msg"`
	ContractName string          `json:"contract_name"`
}

// ContractMetadata is the factory's record of one deployed version.
type ContractMetadata struct {
	Kind         VersionKind `json:"kind"`
	CodeID       uint64      `json:"code_id"`
	ContractAddr string      `json:"contract_addr"`
	Version      [2]uint8    `json:"version"`
	CommitID     string      `json:"commit_id"`
	Checksum     string      `json:"checksum"`
	ChangelogURL *string     `json:"changelog_url,omitempty"`
	Schema       *string     `json:"schema,omitempty"`
}

type FactoryExecuteMsg struct {
	UpdateConfig   *FactoryUpdateConfig `json:"update_config,omitempty"`
	Deploy         *Deploy              `json:"deploy,omitempty"`
	Remove         *RemoveContract      `json:"remove,omitempty"`
	UpdateMetadata *UpdateMetadata      `json:"update_metadata,omitempty"`
	Proxy          *FactoryProxy        `json:"proxy,omitempty"`
}

type FactoryUpdateConfig struct {
	OwnerAddr *string `json:"owner_addr,omitempty"`
	Paused    *bool   `json:"paused,omitempty"`
}

type Deploy struct {
	Kind                  VersionKind           `json:"kind"`
	ModuleInstantiateInfo ModuleInstantiateInfo `json:"module_instantiate_info"`
}

type RemoveContract struct {
	ContractName string   `json:"contract_name"`
	Version      [2]uint8 `json:"version"`
}

type UpdateMetadata struct {
	ContractName string   `json:"contract_name"`
	Version      [2]uint8 `json:"version"`
	ChangelogURL *string  `json:"changelog_url,omitempty"`
	Schema       *string  `json:"schema,omitempty"`
}

// FactoryProxy forwards an admin message from the factory owner to a
// module the factory administers.
type FactoryProxy struct {
	Msg chain.WasmExecute `json:"msg"`
}

type FactoryQueryMsg struct {
	Config                 *Empty                  `json:"config,omitempty"`
	LatestContracts        *Empty                  `json:"latest_contracts,omitempty"`
	LatestContract         *ContractNameQuery      `json:"latest_contract,omitempty"`
	VersionsByContractName *VersionsByContractName `json:"versions_by_contract_name,omitempty"`
	ContractNames          *PageQuery              `json:"contract_names,omitempty"`
	AllEntries             *PageQuery              `json:"all_entries,omitempty"`
}

type ContractNameQuery struct {
	ContractName string `json:"contract_name"`
}

type VersionsByContractName struct {
	ContractName string  `json:"contract_name"`
	FromIndex    *uint64 `json:"from_index,omitempty"`
	Limit        *uint64 `json:"limit,omitempty"`
}

// ContractMetadataInfo pairs a contract name with its latest metadata.
type ContractMetadataInfo struct {
	ContractName string            `json:"contract_name"`
	Metadata     *ContractMetadata `json:"metadata"`
}

type ContractMetadataResponse struct {
	Metadata *ContractMetadata `json:"metadata"`
}

// EntryResponse is one (name, version) registry entry.
type EntryResponse struct {
	ContractName string           `json:"contract_name"`
	Metadata     ContractMetadata `json:"metadata"`
}
