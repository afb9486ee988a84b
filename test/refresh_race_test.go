//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/tokengate"
)

func TestRefreshRaceSingleWinner(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t, mode.setup(t), nil)

			pair, err := svc.Issue(ctx, "racer", tokengate.RoleUser)
			if err != nil {
				t.Fatalf("Issue failed: %v", err)
			}

			const workers = 32
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners int
				other   []error
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := svc.Refresh(ctx, pair.RefreshToken)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						winners++
						return
					}
					other = append(other, err)
				}()
			}
			close(start)
			wg.Wait()

			if winners != 1 {
				t.Fatalf("expected exactly one winner, got %d", winners)
			}
			for _, err := range other {
				if !errors.Is(err, tokengate.ErrTokenInvalid) {
					t.Fatalf("loser got unexpected error: %v", err)
				}
			}
		})
	}
}
