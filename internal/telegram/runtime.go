package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-pkgz/repeater/v2"
)

const (
	ConnectivityTimeout = time.Second
	ConnectivityDelay   = time.Second

	gateAttemptsPerRound = 60
)

// CheckConnectivity reports whether reference answers at all. Any HTTP
// response, whatever its status, counts as reachable.
func CheckConnectivity(ctx context.Context, reference string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reference, nil)
	if err != nil {
		return err
	}

	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s: %w", reference, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// WaitForConnectivity blocks until reference is reachable, checking every
// delay with no attempt limit. It returns early only when ctx is done.
func WaitForConnectivity(ctx context.Context, logger *slog.Logger, reference string, timeout time.Duration, delay time.Duration) error {
	check := func() error {
		err := CheckConnectivity(ctx, reference, timeout)
		if err != nil && ctx.Err() == nil {
			logger.Info("waiting for internet", "reference", reference, "error", err)
		}
		return err
	}

	for {
		err := repeater.NewFixed(gateAttemptsPerRound, delay).Do(ctx, check)
		if err == nil {
			logger.Info("internet reachable", "reference", reference)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
