package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/blockhandler"
	"github.com/flowforge/flowexec/internal/domain"
	"github.com/flowforge/flowexec/internal/domainerr"
)

// ChainProvider is the narrow internal port a BlockchainOpsHandler calls
// into. Production wiring supplies a real client; tests supply a stub. No
// chain RPC library is imported here — the operations are internal
// bookkeeping (balance lookups, transfer intents) against whatever backend
// the deployment wires in, not a live network call.
type ChainProvider interface {
	Balance(ctx context.Context, chain, address string) (string, error)
	Transfer(ctx context.Context, chain, from, to, amount string) (txHash string, err error)
}

// BlockchainOpsHandler implements BLOCKCHAIN_OPS. It keeps the same
// typed-error-and-structured-logging idiom as the rest of the handler set
// even though it has no HTTP or template concerns of its own.
type BlockchainOpsHandler struct {
	provider ChainProvider
}

func NewBlockchainOpsHandler(provider ChainProvider) *BlockchainOpsHandler {
	return &BlockchainOpsHandler{provider: provider}
}

// NoopChainProvider answers every call with a zero balance and a
// deterministic placeholder tx hash. Production deployments that actually
// move funds supply their own ChainProvider backed by a real chain client;
// this exists so a worker process can start up without one configured.
type NoopChainProvider struct{}

func (NoopChainProvider) Balance(_ context.Context, _, _ string) (string, error) {
	return "0", nil
}

func (NoopChainProvider) Transfer(_ context.Context, _, from, to, amount string) (string, error) {
	return fmt.Sprintf("noop-tx-%s-%s-%s", from, to, amount), nil
}

func (h *BlockchainOpsHandler) Kind() domain.BlockKind { return domain.BlockKindBlockchainOps }

func (h *BlockchainOpsHandler) Execute(ctx context.Context, hctx blockhandler.Context) (map[string]any, error) {
	if h.provider == nil {
		return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", fmt.Errorf("no chain provider configured"), false)
	}

	op, _ := hctx.Config["operation"].(string)
	chain, _ := hctx.Config["chain"].(string)
	if chain == "" {
		chain = "ethereum"
	}

	switch op {
	case "balance":
		address, _ := hctx.Config["address"].(string)
		if address == "" {
			return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", fmt.Errorf("address is required"), false)
		}
		balance, err := h.provider.Balance(ctx, chain, address)
		if err != nil {
			return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", err, true)
		}
		return map[string]any{"chain": chain, "address": address, "balance": balance}, nil

	case "transfer":
		from, _ := hctx.Config["from"].(string)
		to, _ := hctx.Config["to"].(string)
		amount, _ := hctx.Config["amount"].(string)
		if from == "" || to == "" || amount == "" {
			return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", fmt.Errorf("from, to and amount are required"), false)
		}
		txHash, err := h.provider.Transfer(ctx, chain, from, to, amount)
		if err != nil {
			return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", err, true)
		}
		log.Info().Str("chain", chain).Str("tx", txHash).Msg("blockchain transfer submitted")
		return map[string]any{"chain": chain, "txHash": txHash}, nil

	default:
		return nil, domainerr.NewHandlerError("BLOCKCHAIN_OPS", fmt.Errorf("unknown operation %q", op), false)
	}
}
