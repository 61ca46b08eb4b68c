package chatclient

import (
	"context"
	"sync"
	"time"
)

// UnreadCounter maintains the unread badge. The cached value is never
// authoritative: push invalidation from the realtime feed is the primary
// refresh signal, and the poll ticker is strictly a fallback safety net that
// bounds staleness to one interval. Read failures keep the last-known value
// rather than breaking the badge.
type UnreadCounter struct {
	client *Client

	mu        sync.Mutex
	count     int64
	fetchedAt time.Time
	closed    bool

	ttl      time.Duration
	onChange func(int64)
	stop     chan struct{}
	done     chan struct{}
}

// NewUnreadCounter starts the counter with the given staleness bound. The
// poll interval equals the TTL. onChange may be nil; when set, it fires on
// every observed change until Close.
func NewUnreadCounter(client *Client, ttl time.Duration, onChange func(int64)) *UnreadCounter {
	u := &UnreadCounter{
		client:   client,
		ttl:      ttl,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go u.pollLoop()
	return u
}

func (u *UnreadCounter) pollLoop() {
	defer close(u.done)
	ticker := time.NewTicker(u.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-ticker.C:
			u.mu.Lock()
			stale := time.Since(u.fetchedAt) >= u.ttl
			u.mu.Unlock()
			if stale {
				u.refresh(context.Background())
			}
		}
	}
}

// Count returns the cached value, refreshing it first when stale.
func (u *UnreadCounter) Count(ctx context.Context) int64 {
	u.mu.Lock()
	fresh := time.Since(u.fetchedAt) < u.ttl
	count := u.count
	u.mu.Unlock()
	if fresh {
		return count
	}
	return u.refresh(ctx)
}

// Invalidate forces a recount now. Called when a message event for one of the
// user's conversations is observed, and after a successful local markRead.
func (u *UnreadCounter) Invalidate(ctx context.Context) {
	u.refresh(ctx)
}

func (u *UnreadCounter) refresh(ctx context.Context) int64 {
	count, err := u.client.UnreadCount(ctx)

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return u.count
	}
	if err != nil {
		// Fail soft: a briefly stale badge self-corrects within one interval.
		count = u.count
	}
	changed := count != u.count
	u.count = count
	u.fetchedAt = time.Now()
	onChange := u.onChange
	u.mu.Unlock()

	if changed && onChange != nil {
		u.notify(count)
	}
	return count
}

func (u *UnreadCounter) notify(count int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed || u.onChange == nil {
		return
	}
	u.onChange(count)
}

// Close stops the poll timer. After it returns, onChange never fires again.
func (u *UnreadCounter) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	u.mu.Unlock()

	close(u.stop)
	<-u.done
}
