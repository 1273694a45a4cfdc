// Package deploy registers the croncat contract codes with a host and
// stands up a factory with its manager, tasks and agents modules.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"croncat/internal/agents"
	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/cw20"
	"croncat/internal/factory"
	"croncat/internal/manager"
	"croncat/internal/msgs"
	"croncat/internal/tasks"
)

const factoryLabel = "CronCat-factory"

var ErrNotDeployed = errors.New("croncat is not deployed on this host")

// Codes are the code ids assigned by StoreCodes.
type Codes struct {
	Factory uint64 `json:"factory"`
	Manager uint64 `json:"manager"`
	Tasks   uint64 `json:"tasks"`
	Agents  uint64 `json:"agents"`
	Cw20    uint64 `json:"cw20"`
}

// StoreCodes registers every contract code. The order is fixed so a host
// reopened on persisted state sees the same code ids.
func StoreCodes(app *chain.App) Codes {
	return Codes{
		Factory: app.StoreCode(factory.New()),
		Manager: app.StoreCode(manager.New()),
		Tasks:   app.StoreCode(tasks.New()),
		Agents:  app.StoreCode(agents.New()),
		Cw20:    app.StoreCode(cw20.New()),
	}
}

// Params are the instantiate messages of a deployment. Sibling keys are
// filled in by Bootstrap.
type Params struct {
	Owner   string
	Version [2]uint8
	Manager msgs.ManagerInstantiateMsg
	Tasks   msgs.TasksInstantiateMsg
	Agents  msgs.AgentsInstantiateMsg
}

// Deployment holds the addresses of a running stack.
type Deployment struct {
	Codes   Codes  `json:"codes"`
	Factory string `json:"factory"`
	Manager string `json:"manager"`
	Tasks   string `json:"tasks"`
	Agents  string `json:"agents"`
}

// Addr maps a contract name used by the API and CLI to its address.
func (d *Deployment) Addr(name string) (string, bool) {
	switch name {
	case core.FactoryName:
		return d.Factory, true
	case core.ManagerName:
		return d.Manager, true
	case core.TasksName:
		return d.Tasks, true
	case core.AgentsName:
		return d.Agents, true
	}
	return "", false
}

// Bootstrap instantiates the factory as p.Owner and has it deploy the
// manager, tasks and agents modules.
func Bootstrap(ctx context.Context, app *chain.App, codes Codes, p Params, logger *slog.Logger) (*Deployment, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.Version == ([2]uint8{}) {
		p.Version = [2]uint8{0, 1}
	}
	key := func(name string) core.ContractKey { return core.ContractKey{Name: name, Version: p.Version} }
	p.Manager.CroncatTasksKey = key(core.TasksName)
	p.Manager.CroncatAgentsKey = key(core.AgentsName)
	p.Tasks.CroncatManagerKey = key(core.ManagerName)
	p.Tasks.CroncatAgentsKey = key(core.AgentsName)
	p.Agents.CroncatManagerKey = key(core.ManagerName)
	p.Agents.CroncatTasksKey = key(core.TasksName)
	if p.Tasks.ChainName == "" {
		p.Tasks.ChainName = "croncat"
	}

	fact, err := app.Instantiate(ctx, p.Owner, codes.Factory, msgs.FactoryInstantiateMsg{}, nil, factoryLabel, &p.Owner)
	if err != nil {
		return nil, fmt.Errorf("instantiate factory: %w", err)
	}
	d := &Deployment{Codes: codes, Factory: fact}

	modules := []struct {
		kind msgs.VersionKind
		name string
		code uint64
		msg  any
		addr *string
	}{
		{msgs.KindManager, core.ManagerName, codes.Manager, p.Manager, &d.Manager},
		{msgs.KindTasks, core.TasksName, codes.Tasks, p.Tasks, &d.Tasks},
		{msgs.KindAgents, core.AgentsName, codes.Agents, p.Agents, &d.Agents},
	}
	for _, m := range modules {
		raw, err := json.Marshal(m.msg)
		if err != nil {
			return nil, err
		}
		_, err = app.Execute(ctx, p.Owner, fact, msgs.FactoryExecuteMsg{Deploy: &msgs.Deploy{
			Kind: m.kind,
			ModuleInstantiateInfo: msgs.ModuleInstantiateInfo{
				CodeID:       m.code,
				Version:      p.Version,
				CommitID:     "local",
				Checksum:     "local",
				Msg:          raw,
				ContractName: m.name,
			},
		}})
		if err != nil {
			return nil, fmt.Errorf("deploy %s: %w", m.name, err)
		}
		addr, err := core.ResolveContract(ctx, hostQuerier{app}, fact, key(m.name))
		if err != nil {
			return nil, err
		}
		*m.addr = addr
		logger.Info("module deployed", "name", m.name, "addr", addr, "version", core.VersionString(p.Version))
	}
	return d, nil
}

// Load finds an existing deployment on a host reopened on persisted state.
func Load(ctx context.Context, app *chain.App, codes Codes) (*Deployment, error) {
	instances, err := app.Contracts(ctx)
	if err != nil {
		return nil, err
	}
	d := &Deployment{Codes: codes}
	for _, inst := range instances {
		if inst.Label == factoryLabel {
			d.Factory = inst.Address
			break
		}
	}
	if d.Factory == "" {
		return nil, ErrNotDeployed
	}
	var latest []msgs.ContractMetadataInfo
	if err := app.QueryJSON(ctx, d.Factory, msgs.FactoryQueryMsg{LatestContracts: &msgs.Empty{}}, &latest); err != nil {
		return nil, err
	}
	for _, info := range latest {
		if info.Metadata == nil {
			continue
		}
		switch info.ContractName {
		case core.ManagerName:
			d.Manager = info.Metadata.ContractAddr
		case core.TasksName:
			d.Tasks = info.Metadata.ContractAddr
		case core.AgentsName:
			d.Agents = info.Metadata.ContractAddr
		}
	}
	if d.Manager == "" || d.Tasks == "" || d.Agents == "" {
		return nil, fmt.Errorf("%w: factory %s is missing modules", ErrNotDeployed, d.Factory)
	}
	return d, nil
}

// hostQuerier adapts the committed-state reads of an App to chain.Querier.
type hostQuerier struct{ app *chain.App }

func (h hostQuerier) QuerySmart(ctx context.Context, contract string, msg any) ([]byte, error) {
	return h.app.Query(ctx, contract, msg)
}

func (h hostQuerier) QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, error) {
	return h.app.QueryRaw(ctx, contract, key)
}

func (h hostQuerier) QueryBalance(ctx context.Context, addr, denom string) (chain.Coin, error) {
	return h.app.Balance(ctx, addr, denom)
}

func (h hostQuerier) QueryAllBalances(ctx context.Context, addr string) ([]chain.Coin, error) {
	return h.app.AllBalances(ctx, addr)
}

func (h hostQuerier) QueryContractInfo(ctx context.Context, contract string) (chain.ContractInstance, error) {
	instances, err := h.app.Contracts(ctx)
	if err != nil {
		return chain.ContractInstance{}, err
	}
	for _, inst := range instances {
		if inst.Address == contract {
			return inst, nil
		}
	}
	return chain.ContractInstance{}, fmt.Errorf("%w: %s", chain.ErrContractNotFound, contract)
}
