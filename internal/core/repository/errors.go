package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-kivik/kivik/v4"

	"github.com/duynhne/budget-proxy/internal/core/domain"
)

type opKind int

const (
	opRead opKind = iota
	opWrite
)

// classify maps a kivik error onto the domain sentinels.
func classify(op string, kind opKind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrStoreWrite) {
		return err
	}

	// Status first: kivik reports a refused login inside a *url.Error,
	// which also satisfies net.Error.
	status := kivik.HTTPStatus(err)
	switch status {
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnauthorized, err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
	}
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransport, err)
	}

	if kind == opWrite {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreWrite, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreRead, err)
}

// outcome labels a classified error for metrics.
func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrStoreUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
