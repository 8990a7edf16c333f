// Command authkestra-loadtest measures guard decisions against a seeded
// session store and token validation throughput.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/marcjazz/authkestra"
	"github.com/marcjazz/authkestra/auth"
	"github.com/marcjazz/authkestra/guard"
	"github.com/marcjazz/authkestra/jwt"
	"github.com/marcjazz/authkestra/session"
	"github.com/marcjazz/authkestra/session/memory"
	"github.com/marcjazz/authkestra/session/redis"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		backend     = flag.String("store", "redis", "session store: redis or memory")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", redis.DefaultPrefix, "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	store, cleanup, err := openStore(*backend, *redisAddr, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	tokens, err := jwt.NewManager(jwt.Config{SigningMethod: jwt.MethodHS256, PrivateKey: secret})
	if err != nil {
		fmt.Fprintf(os.Stderr, "token manager: %v\n", err)
		os.Exit(1)
	}
	engine, err := authkestra.New().
		WithSessionStore(store).
		WithTokenManager(tokens).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	ids := make([]string, *sessions)
	accessTokens := make([]string, *sessions)
	for i := range ids {
		identity, err := auth.NewIdentity("loadtest", fmt.Sprintf("u-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "identity: %v\n", err)
			os.Exit(1)
		}
		s, err := engine.CreateSession(ctx, identity)
		if err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = s.ID
		accessTokens[i], err = engine.IssueUserToken(ctx, identity, jwt.Extra{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	sessionStrategy, err := engine.SessionStrategy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "session strategy: %v\n", err)
		os.Exit(1)
	}
	tokenStrategy, err := engine.TokenStrategy()
	if err != nil {
		fmt.Fprintf(os.Stderr, "token strategy: %v\n", err)
		os.Exit(1)
	}
	sessionGuard, _ := guard.New(guard.FirstSuccess, sessionStrategy)
	bothGuard, _ := guard.New(guard.AllSuccess, sessionStrategy, tokenStrategy)
	cookie := engine.Config().Session.CookieName

	sessionStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		i := r.IntN(len(ids))
		req := guard.NewRequest(nil, map[string]string{cookie: ids[i]}, "")
		_, err := engine.Authenticate(ctx, sessionGuard, req)
		return err
	})
	tokenStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		_, err := engine.ValidateToken(ctx, accessTokens[r.IntN(len(accessTokens))])
		return err
	})
	bothStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		i := r.IntN(len(ids))
		h := http.Header{}
		h.Set("Authorization", "Bearer "+accessTokens[i])
		_, err := engine.Authenticate(ctx, bothGuard, guard.NewRequest(h, map[string]string{cookie: ids[i]}, ""))
		return err
	})

	fmt.Println("---- results ----")
	printStats("session", sessionStats)
	printStats("token", tokenStats)
	printStats("all_success", bothStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("granted=%d denied=%d token_valid=%d\n",
		snap.Counters[authkestra.MetricAccessGranted],
		snap.Counters[authkestra.MetricAccessDenied],
		snap.Counters[authkestra.MetricTokenValid],
	)
}

func openStore(backend, addr, prefix string) (session.Store, func(), error) {
	switch backend {
	case "memory":
		s := memory.New()
		return s, func() { _ = s.Close() }, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", backend)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var stopMini func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		stopMini = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{addr}})
	cleanup := func() {
		_ = client.Close()
		if stopMini != nil {
			stopMini()
		}
	}
	store, err := redis.New(client, redis.WithPrefix(prefix))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := range concurrency {
		wg.Go(func() {
			r := mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)*7919))
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
