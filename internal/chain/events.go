package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
)

var (
	takeTopic     = ethcrypto.Keccak256Hash([]byte("Take(uint256,uint256,uint256,uint256,uint256,uint256,address)"))
	transferTopic = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// TakeEvents decodes every clipper Take log in the receipt. Malformed logs
// are skipped; the caller decides what a wrong event count means.
func (c *Client) TakeEvents(receipt *types.Receipt) []domain.TakeEvent {
	var events []domain.TakeEvent
	for _, vLog := range receipt.Logs {
		ev, ok := decodeTakeLog(vLog)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// decodeTakeLog parses one Take log.
//
// topics: 0 event sig, 1 auction id (indexed), 2 recipient (indexed)
// data:   max, price, owe, tab, lot (five 32-byte words)
func decodeTakeLog(vLog *types.Log) (domain.TakeEvent, bool) {
	if len(vLog.Topics) < 3 || vLog.Topics[0] != takeTopic {
		return domain.TakeEvent{}, false
	}
	if len(vLog.Data) < 32*5 {
		return domain.TakeEvent{}, false
	}

	readU256 := func(word int) *big.Int {
		start := word * 32
		return new(big.Int).SetBytes(vLog.Data[start : start+32])
	}

	return domain.TakeEvent{
		AuctionID: new(big.Int).SetBytes(vLog.Topics[1].Bytes()),
		Recipient: common.BytesToAddress(vLog.Topics[2].Bytes()),
		MaxPrice:  readU256(0),
		Price:     readU256(1),
		Owe:       readU256(2),
		Tab:       readU256(3),
		Lot:       readU256(4),
	}, true
}

// StableTransfers decodes every Transfer log emitted by the stable token in
// the receipt.
func (c *Client) StableTransfers(receipt *types.Receipt) []domain.TransferEvent {
	var events []domain.TransferEvent
	for _, vLog := range receipt.Logs {
		if vLog.Address != c.cfg.Contracts.StableToken {
			continue
		}
		ev, ok := decodeTransferLog(vLog)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// decodeTransferLog parses one ERC-20 Transfer log.
//
// topics: 0 event sig, 1 src (indexed), 2 dst (indexed)
// data:   wad (one 32-byte word)
func decodeTransferLog(vLog *types.Log) (domain.TransferEvent, bool) {
	if len(vLog.Topics) < 3 || vLog.Topics[0] != transferTopic {
		return domain.TransferEvent{}, false
	}
	if len(vLog.Data) < 32 {
		return domain.TransferEvent{}, false
	}

	return domain.TransferEvent{
		From:   common.BytesToAddress(vLog.Topics[1].Bytes()),
		To:     common.BytesToAddress(vLog.Topics[2].Bytes()),
		Amount: new(big.Int).SetBytes(vLog.Data[:32]),
	}, true
}
