package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/marcjazz/authkestra/auth"
)

const tracerName = "github.com/marcjazz/authkestra/guard"

// Policy decides how strategy outcomes combine.
type Policy uint8

const (
	// FirstSuccess accepts the first strategy that authenticates.
	FirstSuccess Policy = iota + 1
	// AllSuccess requires every strategy to authenticate the same Identity.
	// The first failure cancels the strategies still running.
	AllSuccess
	// FailFast behaves like FirstSuccess but stops at the first error whose
	// kind is not recoverable.
	FailFast
)

func (p Policy) String() string {
	switch p {
	case FirstSuccess:
		return "first_success"
	case AllSuccess:
		return "all_success"
	case FailFast:
		return "fail_fast"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// Outcome is the result of a single strategy attempt.
type Outcome uint8

const (
	OutcomeNotRun Outcome = iota
	OutcomeSucceeded
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "not_run"
	}
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string
	Outcome  Outcome
	Kind     auth.Kind
	Err      error
}

// Decision is the outcome of Guard.Authenticate.
type Decision struct {
	// Identity is set when access is granted.
	Identity auth.Identity
	// Strategy names the strategy that produced Identity. Under AllSuccess it
	// is the first strategy.
	Strategy string
	Policy   Policy
	Attempts []Attempt
}

// Granted reports whether the decision carries an Identity.
func (d Decision) Granted() bool { return !d.Identity.IsZero() }

// Failure is the error of a denied Decision. It unwraps to the error that
// decided the denial, so auth.KindOf reports a single kind.
type Failure struct {
	Policy   Policy
	Attempts []Attempt
	cause    error
}

func (f *Failure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "guard %s denied: %v", f.Policy, f.cause)
	for _, a := range f.Attempts {
		switch a.Outcome {
		case OutcomeFailed:
			fmt.Fprintf(&b, "; %s: %v", a.Strategy, a.Err)
		case OutcomeSkipped:
			fmt.Fprintf(&b, "; %s: skipped", a.Strategy)
		}
	}
	return b.String()
}

func (f *Failure) Unwrap() error { return f.cause }

// Kind is the taxonomy kind of the denial.
func (f *Failure) Kind() auth.Kind { return auth.KindOf(f.cause) }

// Guard runs strategies under a policy. It is safe for concurrent use.
type Guard struct {
	policy     Policy
	strategies []Strategy
}

// New builds a Guard. Strategies run in the given order.
func New(policy Policy, strategies ...Strategy) (*Guard, error) {
	switch policy {
	case FirstSuccess, AllSuccess, FailFast:
	default:
		return nil, fmt.Errorf("unknown guard policy %d", policy)
	}
	if len(strategies) == 0 {
		return nil, errors.New("guard needs at least one strategy")
	}
	for i, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("strategy %d is nil", i)
		}
	}
	return &Guard{policy: policy, strategies: append([]Strategy(nil), strategies...)}, nil
}

// Policy returns the guard policy.
func (g *Guard) Policy() Policy { return g.policy }

// Authenticate evaluates req. A denied request returns the partial Decision
// and a *Failure.
func (g *Guard) Authenticate(ctx context.Context, req *Request) (Decision, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "guard.Authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("guard.policy", g.policy.String()))

	var (
		d   Decision
		err error
	)
	if g.policy == AllSuccess {
		d, err = g.all(ctx, req)
	} else {
		d, err = g.sequential(ctx, req)
	}
	if err != nil {
		span.SetStatus(codes.Error, auth.KindOf(err).String())
		return d, err
	}
	span.SetAttributes(attribute.String("guard.strategy", d.Strategy))
	return d, nil
}

func (g *Guard) sequential(ctx context.Context, req *Request) (Decision, error) {
	d := Decision{Policy: g.policy, Attempts: make([]Attempt, len(g.strategies))}
	var decisive error
	for i, s := range g.strategies {
		d.Attempts[i].Strategy = s.Name()
	}
	for i, s := range g.strategies {
		if err := ctx.Err(); err != nil {
			return d, g.deny(d, auth.Wrap(auth.KindProviderUnavailable, err))
		}
		identity, err := attempt(ctx, s, req, &d.Attempts[i])
		if identity != nil {
			d.Identity = *identity
			d.Strategy = s.Name()
			return d, nil
		}
		if err == nil {
			continue
		}
		kind := d.Attempts[i].Kind
		if g.policy == FailFast && !kind.Recoverable() {
			return d, g.deny(d, err)
		}
		if decisive == nil || (auth.KindOf(decisive).Recoverable() && !kind.Recoverable()) {
			decisive = err
		}
	}
	if decisive == nil {
		decisive = auth.Errorf(auth.KindInvalidCredentials, "no strategy applied")
	}
	return d, g.deny(d, decisive)
}

func (g *Guard) all(ctx context.Context, req *Request) (Decision, error) {
	d := Decision{Policy: g.policy, Attempts: make([]Attempt, len(g.strategies))}
	identities := make([]*auth.Identity, len(g.strategies))

	var (
		mu       sync.Mutex
		decisive error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for i, s := range g.strategies {
		d.Attempts[i].Strategy = s.Name()
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			identity, err := attempt(egCtx, s, req, &d.Attempts[i])
			if identity != nil {
				identities[i] = identity
				return nil
			}
			if err == nil {
				err = auth.Errorf(auth.KindInvalidCredentials, "%s did not apply", s.Name())
			}
			mu.Lock()
			if decisive == nil {
				decisive = err
			}
			mu.Unlock()
			return err
		})
	}
	_ = eg.Wait()

	if decisive == nil {
		if err := ctx.Err(); err != nil {
			decisive = auth.Wrap(auth.KindProviderUnavailable, err)
		}
	}
	if decisive != nil {
		return d, g.deny(d, decisive)
	}

	agreed := *identities[0]
	for i, identity := range identities[1:] {
		if !identity.Same(agreed) {
			return d, g.deny(d, auth.Errorf(auth.KindTokenClaimMismatch,
				"%s authenticated %s, %s authenticated %s",
				g.strategies[0].Name(), agreed, g.strategies[i+1].Name(), identity))
		}
	}
	d.Identity = agreed
	d.Strategy = g.strategies[0].Name()
	return d, nil
}

func (g *Guard) deny(d Decision, cause error) error {
	return &Failure{Policy: g.policy, Attempts: d.Attempts, cause: cause}
}

// attempt runs s and records the result in rec. It returns a non-nil
// Identity only on success and a kind-classified error only on failure.
func attempt(ctx context.Context, s Strategy, req *Request, rec *Attempt) (*auth.Identity, error) {
	identity, err := s.Attempt(ctx, req)
	switch {
	case err != nil:
		err = classify(err)
	case identity == nil:
		rec.Outcome = OutcomeSkipped
		return nil, nil
	case identity.IsZero():
		err = auth.Errorf(auth.KindInvalidCredentials, "%s returned an empty identity", s.Name())
	default:
		rec.Outcome = OutcomeSucceeded
		return identity, nil
	}
	rec.Outcome = OutcomeFailed
	rec.Kind = auth.KindOf(err)
	rec.Err = err
	return nil, err
}

func classify(err error) error {
	if auth.KindOf(err) != auth.KindUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return auth.Wrap(auth.KindProviderUnavailable, err)
	}
	return auth.Wrap(auth.KindInvalidCredentials, err)
}
