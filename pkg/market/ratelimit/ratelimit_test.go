package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireRequest_TokenBucket(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if d := l.AcquireRequest("p1", now); !d.Allowed {
			t.Fatalf("request %d denied", i)
		} else {
			d.Permit.Release()
		}
	}
	d := l.AcquireRequest("p1", now)
	if d.Allowed {
		t.Fatalf("third request should be denied")
	}
	if d.RetryAfter != 1 {
		t.Fatalf("RetryAfter=%d", d.RetryAfter)
	}

	if d := l.AcquireRequest("p2", now); !d.Allowed {
		t.Fatalf("other principal should have its own bucket")
	}
	if d := l.AcquireRequest("p1", now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatalf("bucket should refill")
	}
}

func TestAcquireRequest_Concurrency(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed {
		t.Fatalf("first denied")
	}
	if second := l.AcquireRequest("p1", now); second.Allowed {
		t.Fatalf("second should be denied while first is in flight")
	}
	first.Permit.Release()
	first.Permit.Release() // idempotent
	if third := l.AcquireRequest("p1", now); !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireConn_EnforcesCap(t *testing.T) {
	l := New(Config{MaxConnsPerPrincipal: 2})
	now := time.Now()

	a := l.AcquireConn("u_1", now)
	b := l.AcquireConn("u_1", now)
	if !a.Allowed || !b.Allowed {
		t.Fatalf("first two connections should be allowed")
	}
	if c := l.AcquireConn("u_1", now); c.Allowed {
		t.Fatalf("third connection should be denied")
	}
	a.Permit.Release()
	if c := l.AcquireConn("u_1", now); !c.Allowed {
		t.Fatalf("connection should be allowed after release")
	}
}

func TestGC_KeepsEntriesHoldingPermits(t *testing.T) {
	l := New(Config{MaxConnsPerPrincipal: 1, MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Now()

	held := l.AcquireConn("held", now)
	idle := l.AcquireConn("idle", now)
	idle.Permit.Release()

	later := now.Add(time.Hour)
	l.AcquireConn("new", later)

	if l.Len() != 2 {
		t.Fatalf("len=%d", l.Len())
	}
	if d := l.AcquireConn("held", later); d.Allowed {
		t.Fatalf("held principal lost its semaphore")
	}
	held.Permit.Release()
}

func TestPrincipalKeys(t *testing.T) {
	if got := PrincipalKeyFromUserID(12); got != "u_12" {
		t.Fatalf("got %q", got)
	}
	k := PrincipalKeyFromIP("10.0.0.1")
	if k == "ip_10.0.0.1" || len(k) != 3+32 {
		t.Fatalf("unexpected ip key %q", k)
	}
}
