package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Property: for any interleaving of acquire, release, and invalid release,
// idle and in-use stay disjoint, their sum equals the number of created
// resources, and created never exceeds capacity.
func TestPoolStateProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 4).Draw(t, "capacity")

		store := &fakeStore{}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		p, err := New(Config{
			Capacity:       capacity,
			AcquireTimeout: time.Millisecond,
		}, store.factory, store.closer, logger)
		if err != nil {
			t.Fatalf("failed to create pool: %v", err)
		}
		defer p.Close()

		var held []*fakeConn

		checkInvariants := func() {
			stats := p.Stats()
			if stats.Total > capacity {
				t.Fatalf("created %d exceeds capacity %d", stats.Total, capacity)
			}
			if stats.Idle+stats.InUse != stats.Total {
				t.Fatalf("idle(%d) + inUse(%d) != total(%d)", stats.Idle, stats.InUse, stats.Total)
			}
			if stats.InUse != len(held) {
				t.Fatalf("pool reports %d in use, model holds %d", stats.InUse, len(held))
			}
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			action := rapid.SampledFrom([]string{"Acquire", "Release", "InvalidRelease", "Stats"}).Draw(t, "action")

			switch action {
			case "Acquire":
				conn, err := p.Acquire(context.Background())
				if len(held) < capacity {
					if err != nil {
						t.Fatalf("acquire under capacity failed: %v", err)
					}
					held = append(held, conn)
				} else {
					if !IsAcquireTimeout(err) {
						t.Fatalf("acquire on exhausted pool: expected timeout, got %v", err)
					}
				}
			case "Release":
				if len(held) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(held)-1).Draw(t, "idx")
				conn := held[idx]
				held = append(held[:idx], held[idx+1:]...)
				if err := p.Release(conn); err != nil {
					t.Fatalf("release of held resource failed: %v", err)
				}
			case "InvalidRelease":
				if err := p.Release(&fakeConn{id: -1}); !errors.Is(err, ErrInvalidRelease) {
					t.Fatalf("expected ErrInvalidRelease, got %v", err)
				}
			case "Stats":
				// Snapshot only; invariants checked below.
			}

			checkInvariants()
		}
	})
}
