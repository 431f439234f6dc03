// Package token implements the value-transfer layer: an ERC-20 custodian
// that moves stakes between external wallets and the protocol's custody
// account, plus an in-memory ledger for dev mode and tests.
package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wagerlab/escrowd/internal/domain"
)

const erc20ABIJSON = `[
  {"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// fallbackGasLimit is used when EstimateGas fails. Some nodes are flaky on
// transferFrom estimation.
const fallbackGasLimit = 120_000

// Custodian implements domain.TokenLedger against ERC-20 contracts via an
// Ethereum RPC node. Stakes are pulled into a single custody wallet whose
// key signs every outbound transfer. Payers must have approved the custody
// wallet as a spender beforehand.
type Custodian struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	chainID    *big.Int
	custody    common.Address
	erc20ABI   abi.ABI
}

// NewCustodian dials the RPC node and prepares the ERC-20 ABI. The custody
// address is derived from the operator key.
func NewCustodian(rpcURL string, chainID int64, privateKey *ecdsa.PrivateKey) (*Custodian, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("token: dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("token: parse erc20 abi: %w", err)
	}

	return &Custodian{
		client:     client,
		privateKey: privateKey,
		chainID:    big.NewInt(chainID),
		custody:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
		erc20ABI:   parsed,
	}, nil
}

// CustodyAddress returns the wallet holding custodied stakes.
func (c *Custodian) CustodyAddress() common.Address {
	return c.custody
}

// Close releases the RPC connection.
func (c *Custodian) Close() {
	c.client.Close()
}

// Debit pulls amount of token from payer into custody via transferFrom and
// returns the custody balance delta. Fee-on-transfer tokens deliver less
// than requested; the caller decides whether that shortfall is fatal.
func (c *Custodian) Debit(ctx context.Context, token, payer common.Address, amount *big.Int) (*big.Int, error) {
	before, err := c.Balance(ctx, token, c.custody)
	if err != nil {
		return nil, err
	}

	data, err := c.erc20ABI.Pack("transferFrom", payer, c.custody, amount)
	if err != nil {
		return nil, fmt.Errorf("token: pack transferFrom: %w", err)
	}
	if err := c.sendTx(ctx, token, data); err != nil {
		return nil, fmt.Errorf("token: transferFrom %s from %s: %w", token.Hex(), payer.Hex(), err)
	}

	after, err := c.Balance(ctx, token, c.custody)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after, before), nil
}

// Credit sends amount of token from custody to recipient.
func (c *Custodian) Credit(ctx context.Context, token, recipient common.Address, amount *big.Int) error {
	data, err := c.erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return fmt.Errorf("token: pack transfer: %w", err)
	}
	if err := c.sendTx(ctx, token, data); err != nil {
		return fmt.Errorf("token: transfer %s to %s: %w", token.Hex(), recipient.Hex(), err)
	}
	return nil
}

// Balance returns holder's balance of token via balanceOf.
func (c *Custodian) Balance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := c.erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("token: pack balanceOf: %w", err)
	}

	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("token: call balanceOf %s: %w", token.Hex(), err)
	}

	var balance *big.Int
	if err := c.erc20ABI.UnpackIntoInterface(&balance, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("token: unpack balanceOf: %w", err)
	}
	return balance, nil
}

// sendTx signs and submits a contract call from the custody wallet, then
// waits for the receipt and checks it succeeded.
func (c *Custodian) sendTx(ctx context.Context, to common.Address, data []byte) error {
	nonce, err := c.client.PendingNonceAt(ctx, c.custody)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.custody,
		To:   &to,
		Data: data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	receipt, err := waitMined(ctx, c.client, signed.Hash(), time.Second)
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return nil
}

// receiptSource is the slice of the RPC client waitMined needs.
type receiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// waitMined polls for a transaction receipt until the transaction is mined
// or the context ends. A not-found answer, wrapped or not, means the
// transaction is still pending; any other error aborts.
func waitMined(ctx context.Context, src receiptSource, hash common.Hash, interval time.Duration) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := src.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for tx %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.TokenLedger = (*Custodian)(nil)
