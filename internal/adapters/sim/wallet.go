package sim

// wallet.go — wallet efímero para el modo paper: clave generada al arrancar,
// firma real (el submitter no distingue), fondos de mentira en el World.

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/rangebot/internal/ports"
)

// Wallet implementa ports.WalletStore con una clave generada en memoria.
type Wallet struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewWallet genera una clave nueva para el chain id dado.
func NewWallet(chainID int64) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("sim.NewWallet: %w", err)
	}
	return &Wallet{key: key, chainID: big.NewInt(chainID)}, nil
}

// Wallet devuelve la cuenta de firma.
func (w *Wallet) Wallet(ctx context.Context) (ports.Wallet, error) {
	signer := ethtypes.LatestSignerForChainID(w.chainID)
	return ports.Wallet{
		Address: crypto.PubkeyToAddress(w.key.PublicKey),
		SignTx: func(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
			return ethtypes.SignTx(tx, signer, w.key)
		},
	}, nil
}
