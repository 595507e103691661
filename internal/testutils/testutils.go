// Package testutils provides shared helpers for tests.
package testutils

import (
	"context"
	"fmt"
	"time"
)

// LiveSpotLine builds a live "DX de" announcement for testing.
func LiveSpotLine(spotter, dx, freq, tm, grid string) string {
	return fmt.Sprintf("DX de %s:      %s  %s                                       %s %s", spotter, freq, dx, tm, grid)
}

// TabularSpotLine builds one row of a tabular spot listing for testing.
func TabularSpotLine(freq, dx, date, tm, gridPair, spotter string) string {
	return fmt.Sprintf("%s  %s      %s %s  %s               <%s>", freq, dx, date, tm, gridPair, spotter)
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
