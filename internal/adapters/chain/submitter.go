package chain

// submitter.go — firma/envío de transacciones con reconciliación por nonce.
//
// Reintentar a ciegas tras un error ambiguo de red arriesga un doble envío.
// El ancla de corrección es el nonce: es único por emisor, así que como mucho
// existe UNA transacción confirmada con el par (sender, nonce). Ante un error
// ambiguo buscamos ese par en el bloque pending y en los últimos bloques
// confirmados antes de decidir si la tx llegó o no.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/rangebot/internal/domain"
	"github.com/alejandrodnm/rangebot/internal/ports"
)

const (
	// Gracia tras un timeout ambiguo antes de buscar la tx.
	ambiguousGraceWait = 3 * time.Second
	// Cuántos bloques confirmados hacia atrás se escanean.
	confirmedScanDepth = 10
	// Espera acotada cuando la red dice "already known".
	alreadyKnownWait = 60 * time.Second

	reconcilePollInterval = 3 * time.Second
	receiptWaitTimeout    = 60 * time.Second
)

// Submitter firma y envía transacciones bajo el coordinador de failover.
type Submitter struct {
	co      *Coordinator
	wallet  ports.WalletStore
	chainID *big.Int

	// ajustables en tests
	grace        time.Duration
	knownWait    time.Duration
	pollInterval time.Duration
	receiptWait  time.Duration
}

// NewSubmitter crea el submitter para la cuenta del wallet store.
func NewSubmitter(co *Coordinator, wallet ports.WalletStore, chainID int64) *Submitter {
	return &Submitter{
		co:           co,
		wallet:       wallet,
		chainID:      big.NewInt(chainID),
		grace:        ambiguousGraceWait,
		knownWait:    alreadyKnownWait,
		pollInterval: reconcilePollInterval,
		receiptWait:  receiptWaitTimeout,
	}
}

// SignAndSend signs the transaction and submits it through the failover
// coordinator. Ambiguous send errors are resolved by nonce reconciliation
// before anything surfaces to the caller: the result is either the hash of
// the transaction that actually landed, or a definite failure.
func (s *Submitter) SignAndSend(ctx context.Context, tx *ethtypes.Transaction) (common.Hash, error) {
	w, err := s.wallet.Wallet(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain.SignAndSend: wallet: %w", err)
	}

	signed, err := w.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain.SignAndSend: sign: %w", err)
	}

	var hash common.Hash
	err = s.co.Execute(ctx, "send_transaction", func(opCtx context.Context, node Node) error {
		sendErr := node.SendTransaction(opCtx, signed)
		if sendErr == nil {
			hash = signed.Hash()
			return nil
		}
		// la clasificación y reconciliación corren con el contexto padre:
		// el timeout por operación del endpoint ya hizo su trabajo
		return s.resolveSendError(ctx, node, sendErr, w.Address, signed, &hash)
	})
	if err != nil {
		return common.Hash{}, err
	}

	slog.Info("chain: transaction submitted", "tx", hash.Hex(), "nonce", signed.Nonce())
	return hash, nil
}

// resolveSendError clasifica el error de envío y lo resuelve en un resultado
// definitivo. Devuelve nil (con *hash relleno) si la transacción aterrizó.
func (s *Submitter) resolveSendError(ctx context.Context, node Node, sendErr error, from common.Address, signed *ethtypes.Transaction, hash *common.Hash) error {
	nonce := signed.Nonce()

	switch domain.Classify(sendErr) {
	case domain.KindTimeout:
		// timeout ambiguo: la tx pudo llegar a la red
		slog.Warn("chain: ambiguous send timeout, reconciling by nonce",
			"nonce", nonce, "err", sendErr)
		if !s.sleep(ctx, s.grace) {
			return ctx.Err()
		}
		return s.reconcile(ctx, node, sendErr, from, nonce, hash)

	case domain.KindAlreadyKnown:
		// la red ya tiene la tx: espera acotada a que aparezca
		slog.Info("chain: transaction already known, polling for it", "nonce", nonce)
		return s.pollForMatch(ctx, node, from, nonce, hash)

	case domain.KindNonceTooLow:
		// un intento anterior con el mismo nonce ya aterrizó
		if h, ok := s.scanConfirmed(ctx, node, from, nonce); ok {
			slog.Info("chain: nonce already consumed by earlier attempt", "tx", h.Hex(), "nonce", nonce)
			*hash = h
			return nil
		}
		return domain.Permanent(fmt.Errorf("chain: nonce %d too low and no matching transaction found: %w", nonce, sendErr))

	default:
		// cualquier otro error se propaga sin tocar
		return sendErr
	}
}

// reconcile implementa la búsqueda en tres pasos tras un timeout ambiguo.
func (s *Submitter) reconcile(ctx context.Context, node Node, sendErr error, from common.Address, nonce uint64, hash *common.Hash) error {
	// (a) bloque pending: la tx llegó y espera confirmación
	if tx, ok := s.findInBlock(ctx, node, PendingBlockArg(), from, nonce); ok {
		h := tx.Hash()
		slog.Info("chain: transaction found in pending block, waiting for confirmation",
			"tx", h.Hex(), "nonce", nonce)
		if err := s.waitForReceipt(ctx, node, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// localizada pero sin confirmar dentro de la ventana: jamás se
			// devuelve como éxito; permanente porque reenviar duplicaría
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.Permanent(fmt.Errorf("chain.reconcile: tx %s still pending after %s: %w", h.Hex(), s.receiptWait, domain.ErrTxUnconfirmed))
			}
			return domain.Permanent(fmt.Errorf("chain.reconcile: tx %s: %w", h.Hex(), err))
		}
		*hash = h
		return nil
	}

	// (b) últimos N bloques confirmados
	if h, ok := s.scanConfirmed(ctx, node, from, nonce); ok {
		slog.Info("chain: transaction recovered from confirmed block", "tx", h.Hex(), "nonce", nonce)
		*hash = h
		return nil
	}

	// (c) ¿avanzó el nonce de la cuenta?
	current, err := node.NonceAt(ctx, from, nil)
	if err != nil {
		return fmt.Errorf("chain.reconcile: fetch account nonce: %w", err)
	}
	if current > nonce {
		// la tx entró pero no la localizamos: NUNCA se trata como éxito mudo
		return domain.Permanent(fmt.Errorf("chain.reconcile: nonce %d consumed: %w", nonce, domain.ErrTxUntraceable))
	}

	// el nonce no avanzó: el envío falló de verdad; el coordinador puede
	// reintentar con seguridad (un duplicado resolvería por already-known)
	return fmt.Errorf("chain.reconcile: send failed, nonce %d not consumed: %w", nonce, sendErr)
}

// pollForMatch busca el par (sender, nonce) en pending y confirmados hasta
// encontrarlo o agotar la espera acotada.
func (s *Submitter) pollForMatch(ctx context.Context, node Node, from common.Address, nonce uint64, hash *common.Hash) error {
	deadline := time.Now().Add(s.knownWait)

	for {
		if tx, ok := s.findInBlock(ctx, node, PendingBlockArg(), from, nonce); ok {
			*hash = tx.Hash()
			return nil
		}
		if h, ok := s.scanConfirmed(ctx, node, from, nonce); ok {
			*hash = h
			return nil
		}
		if time.Now().After(deadline) {
			return domain.Permanent(fmt.Errorf("chain: transaction known by network but not found after %s (nonce %d)", s.knownWait, nonce))
		}
		if !s.sleep(ctx, s.pollInterval) {
			return ctx.Err()
		}
	}
}

// scanConfirmed busca (sender, nonce) en los últimos confirmedScanDepth bloques.
func (s *Submitter) scanConfirmed(ctx context.Context, node Node, from common.Address, nonce uint64) (common.Hash, bool) {
	head, err := node.BlockNumber(ctx)
	if err != nil {
		slog.Warn("chain: confirmed scan: block number", "err", err)
		return common.Hash{}, false
	}

	for i := uint64(0); i < confirmedScanDepth && i <= head; i++ {
		number := new(big.Int).SetUint64(head - i)
		if tx, ok := s.findInBlock(ctx, node, number, from, nonce); ok {
			return tx.Hash(), true
		}
	}
	return common.Hash{}, false
}

// findInBlock devuelve la transacción del bloque que matchea (sender, nonce).
func (s *Submitter) findInBlock(ctx context.Context, node Node, number *big.Int, from common.Address, nonce uint64) (*ethtypes.Transaction, bool) {
	txs, err := node.BlockTransactions(ctx, number)
	if err != nil {
		slog.Debug("chain: block scan failed", "block", number, "err", err)
		return nil, false
	}

	signer := ethtypes.LatestSignerForChainID(s.chainID)
	for _, tx := range txs {
		if tx.Nonce() != nonce {
			continue
		}
		sender, err := ethtypes.Sender(signer, tx)
		if err != nil {
			continue
		}
		if sender == from {
			return tx, true
		}
	}
	return nil, false
}

// waitForReceipt sondea el receipt hasta confirmación o timeout.
func (s *Submitter) waitForReceipt(ctx context.Context, node Node, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.receiptWait)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return waitCtx.Err()
		case <-ticker.C:
			receipt, err := node.TransactionReceipt(waitCtx, txHash)
			if err != nil {
				continue // aún no minada
			}
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("chain: transaction reverted: %s", txHash.Hex())
			}
			return nil
		}
	}
}

// sleep espera respetando el contexto; false si el contexto murió.
func (s *Submitter) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
