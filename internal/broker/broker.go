// Package broker is the execution collaborator. Fills may differ from the
// requested price; callers must use the returned trade.
package broker

import (
	"context"
	"errors"

	"github.com/rustyeddy/swingtrader/internal/domain"
)

type Broker interface {
	Submit(ctx context.Context, o domain.Order) (domain.Trade, error)
}

var (
	ErrRejected = errors.New("order rejected")
	ErrNoPrice  = errors.New("no price for symbol")
)
