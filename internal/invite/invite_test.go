package invite_test

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/drophub/drophub/internal/invite"
)

var passphraseRe = regexp.MustCompile(`^[23456789a-hj-km-np-z]{8}$`)

func TestGenerateMatchesAlphabet(t *testing.T) {
	m := invite.NewTTLMap()
	now := time.Now()
	p, err := invite.Generate(func(p invite.Passphrase) bool { return m.Exists(p, now) })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !passphraseRe.MatchString(string(p)) {
		t.Fatalf("passphrase %q does not match unambiguous alphabet", p)
	}
}

func TestGenerateRerollsOnCollision(t *testing.T) {
	taken := invite.Passphrase("aaaaaaaa")
	calls := 0
	exists := func(p invite.Passphrase) bool {
		calls++
		if calls == 1 {
			return true // force one reroll
		}
		return p == taken && calls < 2
	}
	p, err := invite.Generate(exists)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected at least one reroll, got %d calls", calls)
	}
	_ = p
}

func TestTTLMapExpiry(t *testing.T) {
	m := invite.NewTTLMap()
	now := time.Now()
	inv := invite.Invite{Passphrase: "abcdefgh", RoomID: 1, Expiry: now.Add(10 * time.Millisecond)}
	m.Add(inv)

	if !m.Exists(inv.Passphrase, now) {
		t.Fatalf("expected invite to be live immediately after insert")
	}

	time.Sleep(20 * time.Millisecond)
	if m.Exists(inv.Passphrase, time.Now()) {
		t.Fatalf("expected invite to be expired")
	}
	if live := m.Live(time.Now()); len(live) != 0 {
		t.Fatalf("expected no live invites, got %v", live)
	}
}

func TestTTLMapSweepIsConsistentWithGet(t *testing.T) {
	m := invite.NewTTLMap()
	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Add(invite.Invite{
			Passphrase: invite.Passphrase(fmt.Sprintf("code%04d", i)),
			RoomID:     1,
			Expiry:     now.Add(-time.Second), // already expired
		})
	}
	m.Sweep(time.Now())
	if live := m.Live(time.Now()); len(live) != 0 {
		t.Fatalf("expected sweep to remove all expired entries, got %v", live)
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	m := invite.NewTTLMap()
	var mu sync.Mutex
	now := time.Now()
	const n = 100
	seen := make(map[invite.Passphrase]struct{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			p, err := invite.Generate(func(p invite.Passphrase) bool {
				_, ok := seen[p]
				return ok || m.Exists(p, now)
			})
			if err == nil {
				seen[p] = struct{}{}
				m.Add(invite.Invite{Passphrase: p, RoomID: 1, Expiry: now.Add(time.Hour)})
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d unique passphrases, got %d", n, len(seen))
	}
}
