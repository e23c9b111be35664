package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain feed reader.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// ChainlinkFeed reads an aggregator contract over Ethereum RPC.
type ChainlinkFeed struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimals     uint8
	decimalsOnce sync.Once
	decimalsErr  error
}

// NewChainlinkFeed builds a feed reader for a single aggregator contract.
func NewChainlinkFeed(opts ChainlinkOptions, logger zerolog.Logger) *ChainlinkFeed {
	return &ChainlinkFeed{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink_feed").Str("feed", opts.FeedAddress).Logger(),
	}
}

// LatestRoundData fetches the most recent round from the aggregator.
func (f *ChainlinkFeed) LatestRoundData(ctx context.Context) (RoundData, error) {
	if f.opts.RPCURL == "" {
		return RoundData{}, errors.New("ethereum rpc url not configured")
	}
	if f.opts.FeedAddress == "" {
		return RoundData{}, errors.New("feed contract address not configured")
	}

	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := f.getClient(ctx)
	if err != nil {
		return RoundData{}, err
	}

	decimals, err := f.feedDecimals(ctx, client)
	if err != nil {
		return RoundData{}, err
	}

	addr := common.HexToAddress(f.opts.FeedAddress)
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return RoundData{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("call latestRoundData: %w", err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return RoundData{}, err
	}
	if len(outputs) != 5 {
		return RoundData{}, errors.New("unexpected latestRoundData response")
	}

	round := RoundData{Decimals: decimals}
	fields := []**big.Int{&round.RoundID, &round.Price, &round.StartedAt, &round.UpdatedAt, &round.AnsweredInRound}
	for i, out := range outputs {
		value, ok := out.(*big.Int)
		if !ok {
			return RoundData{}, fmt.Errorf("failed to decode latestRoundData output %d", i)
		}
		*fields[i] = value
	}

	return round, nil
}

func (f *ChainlinkFeed) feedDecimals(ctx context.Context, client *ethclient.Client) (uint8, error) {
	f.decimalsOnce.Do(func() {
		addr := common.HexToAddress(f.opts.FeedAddress)
		payload, err := aggregatorABI.Pack("decimals")
		if err != nil {
			f.decimalsErr = err
			return
		}
		res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
		if err != nil {
			f.decimalsErr = fmt.Errorf("call decimals: %w", err)
			return
		}
		outputs, err := aggregatorABI.Unpack("decimals", res)
		if err != nil {
			f.decimalsErr = err
			return
		}
		if len(outputs) != 1 {
			f.decimalsErr = errors.New("unexpected decimals response")
			return
		}
		decimals, ok := outputs[0].(uint8)
		if !ok {
			f.decimalsErr = errors.New("failed to decode decimals output")
			return
		}
		f.decimals = decimals
	})
	if f.decimalsErr != nil {
		return 0, f.decimalsErr
	}
	return f.decimals, nil
}

func (f *ChainlinkFeed) getClient(ctx context.Context) (*ethclient.Client, error) {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	client, err := ethclient.DialContext(ctx, f.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

var _ Feed = (*ChainlinkFeed)(nil)
