// Package config loads the TOML configuration file: a [server] section
// selecting the process role, plus the role-specific [node],
// [aggregator] and [network] sections.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/openmatching/frost-custody/internal/httperr"
)

// Role is the process's dispatched role, the `server.role` config key.
type Role string

const (
	RoleNode    Role = "node"
	RoleAddress Role = "address"
	RoleSigner  Role = "signer"
)

type File struct {
	Network    *Network    `toml:"network"`
	Server     Server      `toml:"server"`
	Node       *Node       `toml:"node"`
	Aggregator *Aggregator `toml:"aggregator"`
}

type Server struct {
	Role Role   `toml:"role"`
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

type Network struct {
	Type            string `toml:"type"`
	BitcoinNetwork  string `toml:"bitcoin_network"`
	EthereumNetwork string `toml:"ethereum_network"`
	SolanaNetwork   string `toml:"solana_network"`
}

// resolve returns the network name to use for a given chain family,
// falling back to the top-level `type` when the chain-specific field is
// unset.
func (n *Network) resolve(chainSpecific string) string {
	if chainSpecific != "" {
		return chainSpecific
	}
	if n != nil {
		return n.Type
	}
	return "mainnet"
}

func (n *Network) BitcoinNet() string {
	if n == nil {
		return "mainnet"
	}
	return n.resolve(n.BitcoinNetwork)
}

func (n *Network) EthereumNet() string {
	if n == nil {
		return "mainnet"
	}
	return n.resolve(n.EthereumNetwork)
}

func (n *Network) SolanaNet() string {
	if n == nil {
		return "mainnet"
	}
	return n.resolve(n.SolanaNetwork)
}

type Node struct {
	Index         uint16 `toml:"index"`
	MasterSeedHex string `toml:"master_seed_hex"`
	StoragePath   string `toml:"storage_path"`
	MaxSigners    uint16 `toml:"max_signers"`
	MinSigners    uint16 `toml:"min_signers"`
	EncryptAtRest bool   `toml:"encrypt_at_rest"`
}

func (n *Node) MasterSeed() ([]byte, error) {
	b, err := hex.DecodeString(n.MasterSeedHex)
	if err != nil {
		return nil, httperr.Wrap(httperr.ConfigInvalid, "node.master_seed_hex is not valid hex", err)
	}
	return b, nil
}

type Aggregator struct {
	SignerNodes []string `toml:"signer_nodes"`
	Threshold   int      `toml:"threshold"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, httperr.Wrap(httperr.ConfigInvalid, "failed to parse config file "+path, err)
	}
	applyDefaults(&f)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func applyDefaults(f *File) {
	if f.Node != nil {
		if f.Node.StoragePath == "" {
			f.Node.StoragePath = "./data/frost-shares"
		}
		if f.Node.MaxSigners == 0 {
			f.Node.MaxSigners = 3
		}
		if f.Node.MinSigners == 0 {
			f.Node.MinSigners = 2
		}
	}
}

// Validate enforces the role-driven section requirements: a "node" role
// needs [node], "address"/"signer" roles need [aggregator].
func (f *File) Validate() error {
	switch f.Server.Role {
	case RoleNode:
		if f.Node == nil {
			return httperr.New(httperr.ConfigInvalid, "role 'node' requires a [node] config section")
		}
	case RoleAddress, RoleSigner:
		if f.Aggregator == nil {
			return httperr.New(httperr.ConfigInvalid, fmt.Sprintf("role '%s' requires an [aggregator] config section", f.Server.Role))
		}
	default:
		return httperr.New(httperr.ConfigInvalid, fmt.Sprintf("invalid role %q: must be 'node', 'address', or 'signer'", f.Server.Role))
	}
	return nil
}
