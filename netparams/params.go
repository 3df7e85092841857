package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params
	RPCClientPort string
	RPCServerPort string
	GRPCPort      string
}

var MainNetParams = Params{
	Params:        &chaincfg.MainNetParams,
	RPCClientPort: "8334",
	RPCServerPort: "8332",
	GRPCPort:      "8331",
}

var TestNetParams = Params{
	Params:        &chaincfg.TestNet3Params,
	RPCClientPort: "18334",
	RPCServerPort: "18332",
	GRPCPort:      "18331",
}

var SimNetParams = Params{
	Params:        &chaincfg.SimNetParams,
	RPCClientPort: "18556",
	RPCServerPort: "18554",
	GRPCPort:      "18553",
}

var RegressionNetParams = Params{
	Params:        &chaincfg.RegressionNetParams,
	RPCClientPort: "18334",
	RPCServerPort: "18332",
	GRPCPort:      "18331",
}

// IsTestNet reports whether the parameters describe any network other than
// main net.
func (p *Params) IsTestNet() bool {
	return p.Params.Name != chaincfg.MainNetParams.Name
}
