package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI fragments for the protocol contracts, limited to the calls the
// keeper actually uses. Event decoding is topic-based in events.go.

const cdpManagerABI = `[
  {"type":"function","name":"cdpi","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"urns","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"owns","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

const vatABI = `[
  {"type":"function","name":"urns","stateMutability":"view","inputs":[{"name":"","type":"bytes32"},{"name":"","type":"address"}],"outputs":[{"name":"ink","type":"uint256"},{"name":"art","type":"uint256"}]},
  {"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"Art","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"spot","type":"uint256"},{"name":"line","type":"uint256"},{"name":"dust","type":"uint256"}]},
  {"type":"function","name":"usdv","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const spotterABI = `[
  {"type":"function","name":"ilks","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"pip","type":"address"},{"name":"mat","type":"uint256"}]}
]`

const dsProxyABI = `[
  {"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const dogABI = `[
  {"type":"function","name":"bark","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"urn","type":"address"},{"name":"kpr","type":"address"}],"outputs":[{"name":"id","type":"uint256"}]}
]`

const clipperABI = `[
  {"type":"function","name":"list","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"getStatus","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"needsRedo","type":"bool"},{"name":"price","type":"uint256"},{"name":"lot","type":"uint256"},{"name":"tab","type":"uint256"}]},
  {"type":"function","name":"chost","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"take","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"amt","type":"uint256"},{"name":"max","type":"uint256"},{"name":"who","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"redo","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"kpr","type":"address"}],"outputs":[]}
]`

const gemJoinABI = `[
  {"type":"function","name":"exit","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"wad","type":"uint256"}],"outputs":[]}
]`

const stableJoinABI = `[
  {"type":"function","name":"join","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"wad","type":"uint256"}],"outputs":[]}
]`

const wrappedNativeABI = `[
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var (
	cdpManagerAbi    = mustParseABI(cdpManagerABI)
	vatAbi           = mustParseABI(vatABI)
	spotterAbi       = mustParseABI(spotterABI)
	dsProxyAbi       = mustParseABI(dsProxyABI)
	dogAbi           = mustParseABI(dogABI)
	clipperAbi       = mustParseABI(clipperABI)
	gemJoinAbi       = mustParseABI(gemJoinABI)
	stableJoinAbi    = mustParseABI(stableJoinABI)
	wrappedNativeAbi = mustParseABI(wrappedNativeABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid ABI definition: " + err.Error())
	}
	return parsed
}

// bytes32Ilk encodes an ilk tag into the right-padded bytes32 the contracts
// expect.
func bytes32Ilk(ilk string) [32]byte {
	var b [32]byte
	copy(b[:], ilk)
	return b
}

// ilkFromBytes32 strips the zero padding off a bytes32 ilk tag.
func ilkFromBytes32(b [32]byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}
