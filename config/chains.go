package config

// ChainParams describes a chain the wallet knows defaults for.
type ChainParams struct {
	ID          uint64
	Name        string
	Symbol      string
	ExplorerURL string
}

// knownChains lists chains with built-in explorer defaults.
var knownChains = map[uint64]ChainParams{
	MainnetChainID: {ID: MainnetChainID, Name: "Ethereum", Symbol: "ETH", ExplorerURL: "https://etherscan.io"},
	TestnetChainID: {ID: TestnetChainID, Name: "Sepolia", Symbol: "SepoliaETH", ExplorerURL: "https://sepolia.etherscan.io"},
	17000:          {ID: 17000, Name: "Holesky", Symbol: "HoleskyETH", ExplorerURL: "https://holesky.etherscan.io"},
	10:             {ID: 10, Name: "Optimism", Symbol: "ETH", ExplorerURL: "https://optimistic.etherscan.io"},
	8453:           {ID: 8453, Name: "Base", Symbol: "ETH", ExplorerURL: "https://basescan.org"},
	42161:          {ID: 42161, Name: "Arbitrum One", Symbol: "ETH", ExplorerURL: "https://arbiscan.io"},
}

// LookupChain returns the built-in parameters for id.
func LookupChain(id uint64) (ChainParams, bool) {
	p, ok := knownChains[id]
	return p, ok
}

// Params returns the parameters of the configured chain. Unknown chains get
// a generic name and the configured explorer.
func (c *ChainConfig) Params() ChainParams {
	p, ok := LookupChain(c.ID)
	if !ok {
		p = ChainParams{ID: c.ID, Name: "Chain", Symbol: "ETH"}
	}
	if c.ExplorerURL != "" {
		p.ExplorerURL = c.ExplorerURL
	}
	return p
}
