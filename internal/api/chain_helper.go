package api

import (
	"cryptogateway/internal/chain"
	"cryptogateway/internal/domain"
)

func chainDeriveAddress(cfg *domain.ChainConfig, index uint32) (string, error) {
	return chain.DeriveAddress(cfg.ChainType, cfg.Xpub, index)
}
