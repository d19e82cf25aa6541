// Command sse-load holds many event streams open against the stream service
// and reports how many frames arrived. Each connection reuses the client id
// from its connected greeting when it reconnects.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/woozar/prophecy-sub003/domain"
	"github.com/woozar/prophecy-sub003/internal/sseclient"
)

const maxBackoff = 5 * time.Second

var initialBackoff = time.Second

type counters struct {
	attempts   atomic.Uint64
	failures   atomic.Uint64
	events     atomic.Uint64
	pings      atomic.Uint64
	reconnects atomic.Uint64

	mu     sync.Mutex
	byKind map[string]uint64
}

func (c *counters) frame(kind string) {
	c.events.Add(1)
	c.mu.Lock()
	c.byKind[kind]++
	c.mu.Unlock()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

func main() {
	streamURL := getenv("STREAM_URL", "http://localhost:9000/events")
	conns := getenvInt("SSE_CONNECTIONS", 200)
	duration := time.Duration(getenvInt("DURATION_SEC", 120)) * time.Second
	quiet := time.Duration(getenvInt("QUIET_SEC", 60)) * time.Second
	bearer := os.Getenv("TEST_BEARER")

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	stats := &counters{byKind: map[string]uint64{}}
	client := &http.Client{}
	var wg sync.WaitGroup
	wg.Add(conns)
	for range conns {
		go func() {
			defer wg.Done()
			holdStream(ctx, client, streamURL, bearer, stats)
		}()
	}

	go func() {
		select {
		case <-time.After(quiet):
			if stats.events.Load() == 0 && stats.pings.Load() == 0 {
				log.Errorf("no frames received in %v", quiet)
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	attempts, failures := stats.attempts.Load(), stats.failures.Load()
	failureRate := 0.0
	if attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}
	fields := log.Fields{
		"connections":         conns,
		"duration_sec":        int(duration.Seconds()),
		"events_received":     stats.events.Load(),
		"pings_received":      stats.pings.Load(),
		"reconnects":          stats.reconnects.Load(),
		"connection_failures": failures,
	}
	for kind, n := range stats.byKind {
		fields["kind."+kind] = n
	}
	log.WithFields(fields).Info("sse load finished")
	if stats.events.Load()+stats.pings.Load() == 0 || failureRate > 0.01 {
		os.Exit(1)
	}
}

func holdStream(ctx context.Context, client *http.Client, streamURL, bearer string, stats *counters) {
	var clientID string
	backoff := initialBackoff
	for ctx.Err() == nil {
		stats.attempts.Add(1)
		if clientID != "" {
			stats.reconnects.Add(1)
		}
		id, err := readStream(ctx, client, withClientID(streamURL, clientID), bearer, stats)
		if id != "" {
			clientID = id
			backoff = initialBackoff
		}
		if ctx.Err() != nil {
			return
		}
		stats.failures.Add(1)
		log.WithError(err).Debug("stream dropped")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}

// readStream consumes one connection until it ends and returns the client id
// announced by the service.
func readStream(ctx context.Context, client *http.Client, target, bearer string, stats *counters) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var clientID string
	r := sseclient.NewReader(resp.Body)
	for {
		f, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("stream closed by server")
			}
			return clientID, err
		}
		switch {
		case f.Ping():
			stats.pings.Add(1)
		case f.Kind == string(domain.Connected):
			var greeting struct {
				ClientID string `json:"clientId"`
			}
			if err := sonic.ConfigStd.UnmarshalFromString(f.Data, &greeting); err == nil {
				clientID = greeting.ClientID
			}
		case f.Kind != "":
			stats.frame(f.Kind)
		}
	}
}

func withClientID(streamURL, clientID string) string {
	if clientID == "" {
		return streamURL
	}
	u, err := url.Parse(streamURL)
	if err != nil {
		return streamURL
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String()
}
