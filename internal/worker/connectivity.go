package worker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ConnectivityProbe polls the server's health endpoint and emits a value
// on Events whenever reachability flips. Only transitions are reported.
type ConnectivityProbe struct {
	healthURL string
	interval  time.Duration
	client    *http.Client
	events    chan bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewConnectivityProbe(healthURL string, interval time.Duration) *ConnectivityProbe {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ConnectivityProbe{
		healthURL: healthURL,
		interval:  interval,
		client:    &http.Client{Timeout: 5 * time.Second},
		events:    make(chan bool, 4),
	}
}

// Events delivers connectivity transitions; true means online.
func (p *ConnectivityProbe) Events() <-chan bool {
	return p.events
}

func (p *ConnectivityProbe) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)
	return nil
}

func (p *ConnectivityProbe) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ConnectivityProbe) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	online := p.check(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.check(ctx)
			if now == online {
				continue
			}
			online = now
			slog.Info("Connectivity changed", "online", online)
			select {
			case p.events <- online:
			default:
				// Listener is behind; the next transition will catch it up.
			}
		}
	}
}

func (p *ConnectivityProbe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
