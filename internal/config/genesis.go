package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/deploy"
)

const defaultDenom = "ucron"

// Genesis describes a fresh local chain: the first block, the factory owner,
// initial bank balances and the instantiate messages of each module.
// Module sections use the same snake_case keys as the contract messages.
type Genesis struct {
	ChainID     string           `yaml:"chain_id"`
	Height      uint64           `yaml:"height"`
	GenesisTime uint64           `yaml:"genesis_time"`
	Owner       string           `yaml:"owner"`
	Version     string           `yaml:"version"`
	Balances    []GenesisBalance `yaml:"balances"`
	Manager     map[string]any   `yaml:"manager"`
	Tasks       map[string]any   `yaml:"tasks"`
	Agents      map[string]any   `yaml:"agents"`
}

type GenesisBalance struct {
	Address string `yaml:"address"`
	Denom   string `yaml:"denom"`
	Amount  uint64 `yaml:"amount"`
}

// DefaultGenesis is used when no genesis file is configured.
func DefaultGenesis() *Genesis {
	return &Genesis{
		Owner:   "croncat1owner",
		Version: "0.1",
		Balances: []GenesisBalance{
			{Address: "croncat1owner", Denom: defaultDenom, Amount: 1_000_000_000},
		},
	}
}

// LoadGenesis reads a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

func ParseGenesis(data []byte) (*Genesis, error) {
	g := &Genesis{}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if g.Owner == "" {
		return nil, errors.New("genesis owner is required")
	}
	if g.Version == "" {
		g.Version = "0.1"
	}
	for i := range g.Balances {
		if g.Balances[i].Denom == "" {
			g.Balances[i].Denom = defaultDenom
		}
	}
	return g, nil
}

// ChainOptions fills the first-block fields of opts.
func (g *Genesis) ChainOptions(opts chain.Options) chain.Options {
	opts.ChainID = g.ChainID
	opts.Height = g.Height
	opts.GenesisTime = g.GenesisTime
	return opts
}

// Coins returns the initial balance of every account.
func (g *Genesis) Coins() map[string][]chain.Coin {
	out := make(map[string][]chain.Coin, len(g.Balances))
	for _, b := range g.Balances {
		out[b.Address] = append(out[b.Address], chain.NewCoin(b.Denom, b.Amount))
	}
	return out
}

// DeployParams converts the module sections into instantiate messages.
func (g *Genesis) DeployParams() (deploy.Params, error) {
	version, err := core.ParseVersion(g.Version)
	if err != nil {
		return deploy.Params{}, err
	}
	p := deploy.Params{Owner: g.Owner, Version: version}
	sections := []struct {
		name string
		in   map[string]any
		out  any
	}{
		{"manager", g.Manager, &p.Manager},
		{"tasks", g.Tasks, &p.Tasks},
		{"agents", g.Agents, &p.Agents},
	}
	for _, s := range sections {
		if err := decodeSection(s.in, s.out); err != nil {
			return deploy.Params{}, fmt.Errorf("genesis %s: %w", s.name, err)
		}
	}
	return p, nil
}

func decodeSection(in map[string]any, out any) error {
	if len(in) == 0 {
		return nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
