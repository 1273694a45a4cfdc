// Package factory implements the registry contract that deploys croncat
// modules and maps (contract name, version) to addresses.
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

const (
	deployReplyID = 1

	defaultLimit = 100
	maxLimit     = 250
)

var (
	ErrVersionExists = errors.New("contract version already deployed")
	ErrRemoveLatest  = errors.New("cannot remove the latest version of a contract")
	ErrUnknownKind   = errors.New("unknown contract kind")
	ErrNotModule     = errors.New("proxy target is not a factory module")
)

// Contract is the factory code.
type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.FactoryInstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode instantiate msg: %w", err)
	}
	owner := info.Sender
	if msg.OwnerAddr != nil {
		addr, err := deps.API.AddrValidate(*msg.OwnerAddr)
		if err != nil {
			return nil, err
		}
		owner = addr
	}
	if err := configItem.Save(ctx, deps.Storage, msgs.FactoryConfig{OwnerAddr: owner}); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "instantiate").
		AddAttribute("owner_addr", owner), nil
}

func (c *Contract) Execute(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.FactoryExecuteMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if info.Sender != cfg.OwnerAddr {
		return nil, fmt.Errorf("%w: only the factory owner may execute", core.ErrUnauthorized)
	}
	switch {
	case msg.UpdateConfig != nil:
		return c.updateConfig(ctx, deps, cfg, msg.UpdateConfig)
	case msg.Proxy != nil:
		return c.proxy(ctx, deps, env, info, msg.Proxy)
	}
	if cfg.Paused {
		return nil, core.ErrPaused
	}
	switch {
	case msg.Deploy != nil:
		return c.deploy(ctx, deps, env, info, msg.Deploy)
	case msg.Remove != nil:
		return c.remove(ctx, deps, msg.Remove)
	default:
		return c.updateMetadata(ctx, deps, msg.UpdateMetadata)
	}
}

func (c *Contract) updateConfig(ctx context.Context, deps chain.Deps, cfg msgs.FactoryConfig, msg *msgs.FactoryUpdateConfig) (*chain.Response, error) {
	if msg.OwnerAddr != nil {
		addr, err := deps.API.AddrValidate(*msg.OwnerAddr)
		if err != nil {
			return nil, err
		}
		cfg.OwnerAddr = addr
	}
	if msg.Paused != nil {
		cfg.Paused = *msg.Paused
	}
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_config").
		AddAttribute("owner_addr", cfg.OwnerAddr), nil
}

func (c *Contract) deploy(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, msg *msgs.Deploy) (*chain.Response, error) {
	switch msg.Kind {
	case msgs.KindManager, msgs.KindTasks, msgs.KindAgents, msgs.KindLibrary:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	mod := msg.ModuleInstantiateInfo
	if mod.ContractName == "" {
		return nil, fmt.Errorf("%w: empty contract name", core.ErrInvalidVersion)
	}
	exists, err := metadatas.Has(ctx, deps.Storage, versionKey(mod.ContractName, mod.Version))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s %s", ErrVersionExists, mod.ContractName, core.VersionString(mod.Version))
	}
	if err := pending.Save(ctx, deps.Storage, pendingDeploy{Kind: msg.Kind, Info: mod}); err != nil {
		return nil, err
	}
	admin := env.Contract.Address
	label := "CronCat-" + mod.ContractName + "-" + core.VersionString(mod.Version)
	instantiate := chain.CosmosMsg{Wasm: &chain.WasmMsg{Instantiate: &chain.WasmInstantiate{
		Admin:  &admin,
		CodeID: mod.CodeID,
		Msg:    mod.Msg,
		Funds:  info.Funds,
		Label:  label,
	}}}
	deps.Logger.Info("deploying module", "contract_name", mod.ContractName, "version", core.VersionString(mod.Version), "code_id", mod.CodeID)
	return chain.NewResponse().
		AddAttribute("action", "deploy").
		AddAttribute("contract_name", mod.ContractName).
		AddAttribute("version", core.VersionString(mod.Version)).
		AddSubMessage(chain.SubMsg{ID: deployReplyID, Msg: instantiate, ReplyOn: chain.ReplySuccess}), nil
}

// Reply records the address of a freshly instantiated module and makes it
// the latest version when it is newer than the current one.
func (c *Contract) Reply(ctx context.Context, deps chain.Deps, env chain.Env, reply chain.Reply) (*chain.Response, error) {
	if reply.ID != deployReplyID {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownReplyID, reply.ID)
	}
	res, err := chain.ParseInstantiateReply(reply)
	if err != nil {
		return nil, err
	}
	p, err := pending.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if err := pending.Remove(ctx, deps.Storage); err != nil {
		return nil, err
	}
	mod := p.Info
	meta := msgs.ContractMetadata{
		Kind:         p.Kind,
		CodeID:       mod.CodeID,
		ContractAddr: res.ContractAddress,
		Version:      mod.Version,
		CommitID:     mod.CommitID,
		Checksum:     mod.Checksum,
		ChangelogURL: mod.ChangelogURL,
		Schema:       mod.Schema,
	}
	key := versionKey(mod.ContractName, mod.Version)
	if err := metadatas.Save(ctx, deps.Storage, key, meta); err != nil {
		return nil, err
	}
	if err := contractAddrs.Save(ctx, deps.Storage, key, res.ContractAddress); err != nil {
		return nil, err
	}
	cur, ok, err := latest.May(ctx, deps.Storage, mod.ContractName)
	if err != nil {
		return nil, err
	}
	if !ok || versionLess(cur, mod.Version) {
		if err := latest.Save(ctx, deps.Storage, mod.ContractName, mod.Version); err != nil {
			return nil, err
		}
	}
	return chain.NewResponse().
		AddAttribute("action", "instantiate_reply").
		AddAttribute("contract_name", mod.ContractName).
		AddAttribute("contract_address", res.ContractAddress), nil
}

func (c *Contract) remove(ctx context.Context, deps chain.Deps, msg *msgs.RemoveContract) (*chain.Response, error) {
	cur, ok, err := latest.May(ctx, deps.Storage, msg.ContractName)
	if err != nil {
		return nil, err
	}
	if ok && cur == msg.Version {
		return nil, fmt.Errorf("%w: %s %s", ErrRemoveLatest, msg.ContractName, core.VersionString(msg.Version))
	}
	key := versionKey(msg.ContractName, msg.Version)
	exists, err := metadatas.Has(ctx, deps.Storage, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s %s", core.ErrContractNotFound, msg.ContractName, core.VersionString(msg.Version))
	}
	if err := metadatas.Remove(ctx, deps.Storage, key); err != nil {
		return nil, err
	}
	if err := contractAddrs.Remove(ctx, deps.Storage, key); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "remove").
		AddAttribute("contract_name", msg.ContractName).
		AddAttribute("version", core.VersionString(msg.Version)), nil
}

func (c *Contract) updateMetadata(ctx context.Context, deps chain.Deps, msg *msgs.UpdateMetadata) (*chain.Response, error) {
	key := versionKey(msg.ContractName, msg.Version)
	meta, err := metadatas.Load(ctx, deps.Storage, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", core.ErrContractNotFound, msg.ContractName, core.VersionString(msg.Version))
		}
		return nil, err
	}
	if msg.ChangelogURL != nil {
		meta.ChangelogURL = msg.ChangelogURL
	}
	if msg.Schema != nil {
		meta.Schema = msg.Schema
	}
	if err := metadatas.Save(ctx, deps.Storage, key, meta); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_metadata").
		AddAttribute("contract_name", msg.ContractName), nil
}

// proxy forwards an owner message to a module the factory administers.
func (c *Contract) proxy(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, msg *msgs.FactoryProxy) (*chain.Response, error) {
	inst, err := deps.Querier.QueryContractInfo(ctx, msg.Msg.ContractAddr)
	if err != nil {
		return nil, err
	}
	if inst.Admin == nil || *inst.Admin != env.Contract.Address {
		return nil, fmt.Errorf("%w: %s", ErrNotModule, msg.Msg.ContractAddr)
	}
	exec := msg.Msg
	exec.Funds = info.Funds
	if exec.Funds == nil {
		exec.Funds = []chain.Coin{}
	}
	return chain.NewResponse().
		AddAttribute("action", "proxy").
		AddAttribute("contract_addr", exec.ContractAddr).
		AddMessage(chain.CosmosMsg{Wasm: &chain.WasmMsg{Execute: &exec}}), nil
}

func (c *Contract) Query(ctx context.Context, deps chain.Deps, env chain.Env, raw json.RawMessage) ([]byte, error) {
	var msg msgs.FactoryQueryMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	var (
		out any
		err error
	)
	switch {
	case msg.Config != nil:
		out, err = configItem.Load(ctx, deps.Storage)
	case msg.LatestContracts != nil:
		out, err = latestContracts(ctx, deps.Storage)
	case msg.LatestContract != nil:
		out, err = latestContract(ctx, deps.Storage, msg.LatestContract.ContractName)
	case msg.VersionsByContractName != nil:
		q := msg.VersionsByContractName
		out, err = versionsByName(ctx, deps.Storage, q.ContractName, &msgs.PageQuery{FromIndex: q.FromIndex, Limit: q.Limit})
	case msg.ContractNames != nil:
		out, err = contractNames(ctx, deps.Storage, msg.ContractNames)
	default:
		out, err = allEntries(ctx, deps.Storage, msg.AllEntries)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func latestContracts(ctx context.Context, kv store.KV) ([]msgs.ContractMetadataInfo, error) {
	out := []msgs.ContractMetadataInfo{}
	err := latest.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(name string, version [2]uint8) (bool, error) {
		meta, ok, err := metadatas.May(ctx, kv, versionKey(name, version))
		if err != nil {
			return false, err
		}
		info := msgs.ContractMetadataInfo{ContractName: name}
		if ok {
			info.Metadata = &meta
		}
		out = append(out, info)
		return true, nil
	})
	return out, err
}

func latestContract(ctx context.Context, kv store.KV, name string) (msgs.ContractMetadataResponse, error) {
	version, ok, err := latest.May(ctx, kv, name)
	if err != nil || !ok {
		return msgs.ContractMetadataResponse{}, err
	}
	meta, ok, err := metadatas.May(ctx, kv, versionKey(name, version))
	if err != nil || !ok {
		return msgs.ContractMetadataResponse{}, err
	}
	return msgs.ContractMetadataResponse{Metadata: &meta}, nil
}

func versionsByName(ctx context.Context, kv store.KV, name string, page *msgs.PageQuery) ([]msgs.ContractMetadata, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := []msgs.ContractMetadata{}
	var skipped uint64
	err := store.PairRange(ctx, kv, metadatas, name, nil, store.Ascending, func(_ store.Pair, meta msgs.ContractMetadata) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, meta)
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

func contractNames(ctx context.Context, kv store.KV, page *msgs.PageQuery) ([]string, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := []string{}
	var skipped uint64
	err := latest.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(name string, _ [2]uint8) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, name)
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

func allEntries(ctx context.Context, kv store.KV, page *msgs.PageQuery) ([]msgs.EntryResponse, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := []msgs.EntryResponse{}
	var skipped uint64
	err := metadatas.Range(ctx, kv, store.Bound[store.Pair]{}, store.Ascending, func(k store.Pair, meta msgs.ContractMetadata) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, msgs.EntryResponse{ContractName: k.A, Metadata: meta})
		return uint64(len(out)) < limit, nil
	})
	return out, err
}
