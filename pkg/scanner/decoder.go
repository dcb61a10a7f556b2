package scanner

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/types"
)

// eventsABI holds the event shapes the scanner understands.
const eventsABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"value","type":"uint256"}]},
	{"type":"event","name":"Mint","anonymous":false,"inputs":[
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"Staked","anonymous":false,"inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]}
]`

var parsedEventsABI = mustParseEventsABI()

func mustParseEventsABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

var eventNames = map[types.EventKind]string{
	types.EventKindTransfer: "Transfer",
	types.EventKindMint:     "Mint",
	types.EventKindStaked:   "Staked",
}

// Decoder turns raw logs of one event kind into tagged records.
type Decoder struct {
	kind  types.EventKind
	event abi.Event
	chain string
}

// NewDecoder returns a decoder for an event kind.
func NewDecoder(kind types.EventKind, chain string) (*Decoder, error) {
	name, ok := eventNames[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported event kind %q", kind)
	}
	return &Decoder{kind: kind, event: parsedEventsABI.Events[name], chain: chain}, nil
}

// Topic returns the event signature hash used as topic[0] in log filters.
func (d *Decoder) Topic() common.Hash {
	return d.event.ID
}

// Decode decodes and validates a single log.
func (d *Decoder) Decode(log gethtypes.Log) (types.Event, error) {
	if len(log.Topics) == 0 || log.Topics[0] != d.event.ID {
		return nil, fmt.Errorf("log %s/%d is not a %s event", log.TxHash.Hex(), log.Index, d.event.Name)
	}

	wantTopics := 1
	for _, in := range d.event.Inputs {
		if in.Indexed {
			wantTopics++
		}
	}
	if len(log.Topics) != wantTopics {
		return nil, fmt.Errorf("%s log %s/%d has %d topics, expected %d", d.event.Name, log.TxHash.Hex(), log.Index, len(log.Topics), wantTopics)
	}

	values, err := d.event.Inputs.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s log data: %w", d.event.Name, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s log has %d data values, expected 1", d.event.Name, len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s log amount has unexpected type %T", d.event.Name, values[0])
	}

	meta := types.EventMeta{
		Chain:       d.chain,
		Contract:    log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}

	var ev types.Event
	switch d.kind {
	case types.EventKindTransfer:
		ev = &types.TransferEvent{
			EventMeta: meta,
			From:      common.BytesToAddress(log.Topics[1].Bytes()),
			To:        common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:    amount,
		}
	case types.EventKindMint:
		ev = &types.MintEvent{
			EventMeta: meta,
			To:        common.BytesToAddress(log.Topics[1].Bytes()),
			Amount:    amount,
		}
	case types.EventKindStaked:
		ev = &types.StakedEvent{
			EventMeta: meta,
			Account:   common.BytesToAddress(log.Topics[1].Bytes()),
			Amount:    amount,
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeLog builds the log an event would emit. Used by tests and local fixtures.
func (d *Decoder) EncodeLog(contract common.Address, block uint64, index uint, indexed []common.Address, amount *big.Int) (gethtypes.Log, error) {
	data, err := d.event.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		return gethtypes.Log{}, err
	}
	topics := []common.Hash{d.event.ID}
	for _, addr := range indexed {
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}
	return gethtypes.Log{
		Address:     contract,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		Index:       index,
	}, nil
}
