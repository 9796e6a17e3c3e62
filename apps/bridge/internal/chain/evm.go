package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	evmTransferGasLimit = uint64(21000)
	evmDecimals         = 18
)

// EVMAdapter implements Adapter for EVM-compatible chains. Escrow uses the
// shared-control address convention: locking transfers funds to an
// operator-held escrow address; release and refund spend from it with the
// operator key.
type EVMAdapter struct {
	name          string
	client        *ethclient.Client
	chainID       *big.Int
	operatorKey   *ecdsa.PrivateKey
	escrowAddress common.Address
	logger        *zap.Logger
}

func NewEVMAdapter(name, rpcURL string, chainID int64, operatorKeyHex, escrowAddress string, logger *zap.Logger) (*EVMAdapter, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM client: %w", err)
	}

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("invalid escrow address: %s", escrowAddress)
	}

	return &EVMAdapter{
		name:          name,
		client:        client,
		chainID:       big.NewInt(chainID),
		operatorKey:   operatorKey,
		escrowAddress: common.HexToAddress(escrowAddress),
		logger:        logger.With(zap.String("module", "evm-adapter"), zap.String("chain", name)),
	}, nil
}

func (a *EVMAdapter) Name() string {
	return a.name
}

func (a *EVMAdapter) GenerateDepositAddress(ctx context.Context) (*DepositAddress, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	a.logger.Info("Generated deposit address", zap.String("address", address.Hex()))

	return &DepositAddress{
		Address: address.Hex(),
		Secret:  fmt.Sprintf("%x", crypto.FromECDSA(key)),
	}, nil
}

func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (float64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("invalid address: %s", address)
	}

	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return weiToDecimal(balance), nil
}

func (a *EVMAdapter) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (a *EVMAdapter) BuildAndBroadcast(ctx context.Context, signingKey, toAddress string, amount float64) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(signingKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signing key: %w", err)
	}
	return a.transfer(ctx, key, toAddress, amount)
}

// MonitorAddress polls the address balance and reports increases as
// deposits. Chains with richer indexing would subscribe to logs instead.
func (a *EVMAdapter) MonitorAddress(ctx context.Context, address string, interval time.Duration, onDeposit DepositCallback) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address: %s", address)
	}

	last, err := a.GetBalance(ctx, address)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			balance, err := a.GetBalance(ctx, address)
			if err != nil {
				a.logger.Error("Error polling balance", zap.String("address", address), zap.Error(err))
				continue
			}
			if balance > last {
				onDeposit(fmt.Sprintf("balance:%s:%d", address, time.Now().UnixMilli()), balance-last)
			}
			last = balance
		}
	}
}

func (a *EVMAdapter) LockEscrow(ctx context.Context, req LockRequest) (*EscrowLock, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(req.SigningKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	owner := crypto.PubkeyToAddress(key.PublicKey)
	if req.OwnerAddress != "" && !strings.EqualFold(owner.Hex(), req.OwnerAddress) {
		return nil, fmt.Errorf("signing key does not control %s", req.OwnerAddress)
	}

	txRef, err := a.transfer(ctx, key, a.escrowAddress.Hex(), req.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to lock escrow: %w", err)
	}

	a.logger.Info("Locked escrow leg",
		zap.String("owner", owner.Hex()),
		zap.Float64("amount", req.Amount),
		zap.String("tx_ref", txRef))

	return &EscrowLock{
		TxRef:       txRef,
		ContractRef: a.escrowAddress.Hex(),
	}, nil
}

func (a *EVMAdapter) ReleaseEscrow(ctx context.Context, lock *EscrowLock, toAddress string, amount float64) (string, error) {
	txRef, err := a.transfer(ctx, a.operatorKey, toAddress, amount)
	if err != nil {
		return "", fmt.Errorf("failed to release escrow: %w", err)
	}

	a.logger.Info("Released escrow leg",
		zap.String("lock_tx", lock.TxRef),
		zap.String("to", toAddress),
		zap.String("tx_ref", txRef))
	return txRef, nil
}

func (a *EVMAdapter) RefundEscrow(ctx context.Context, lock *EscrowLock, ownerAddress string, amount float64) (string, error) {
	txRef, err := a.transfer(ctx, a.operatorKey, ownerAddress, amount)
	if err != nil {
		return "", fmt.Errorf("failed to refund escrow: %w", err)
	}

	a.logger.Info("Refunded escrow leg",
		zap.String("lock_tx", lock.TxRef),
		zap.String("owner", ownerAddress),
		zap.String("tx_ref", txRef))
	return txRef, nil
}

func (a *EVMAdapter) transfer(ctx context.Context, key *ecdsa.PrivateKey, toAddress string, amount float64) (string, error) {
	if !common.IsHexAddress(toAddress) {
		return "", fmt.Errorf("invalid recipient address: %s", toAddress)
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(toAddress), decimalToWei(amount), evmTransferGasLimit, gasPrice, nil)

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func weiToDecimal(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(evmDecimals), nil)))
	result, _ := f.Float64()
	return result
}

func decimalToWei(amount float64) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	f.Mul(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(evmDecimals), nil)))
	wei, _ := f.Int(nil)
	return wei
}
