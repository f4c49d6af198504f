package events

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"price-history/internal/metrics"
)

// validChannel matches safe PostgreSQL LISTEN channel names.
var validChannel = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	backoffMultiplier     = 2
	readDeadline          = 2 * time.Minute
)

// Acquirer hands out dedicated pool connections.
type Acquirer interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// Listener subscribes to a LISTEN/NOTIFY channel and dispatches each payload in order.
type Listener struct {
	conns          Acquirer
	channel        string
	handler        Handler
	logger         zerolog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewListener creates a Listener. Zero backoffs fall back to 1s and 30s.
func NewListener(conns Acquirer, channel string, handler Handler, initialBackoff, maxBackoff time.Duration, logger zerolog.Logger) (*Listener, error) {
	if !validChannel.MatchString(channel) {
		return nil, fmt.Errorf("events: invalid channel name %q", channel)
	}
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	if maxBackoff < initialBackoff {
		maxBackoff = defaultMaxBackoff
	}
	return &Listener{
		conns:          conns,
		channel:        channel,
		handler:        handler,
		logger:         logger.With().Str("component", "events").Str("channel", channel).Logger(),
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

// Run listens until ctx is cancelled, reconnecting with backoff when the connection drops.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := l.subscribeAndDispatch(ctx)
		metrics.ListenerConnected.Set(0)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("event listener connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff, l.maxBackoff)
	}
}

func (l *Listener) subscribeAndDispatch(ctx context.Context) error {
	conn, err := l.conns.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	// LISTEN takes the channel inline, not as a parameter
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	metrics.ListenerConnected.Set(1)
	l.logger.Info().Msg("event listener listening")

	for {
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		l.handle(ctx, notification)
	}
}

// handle never fails the loop: bad events are logged and dropped.
func (l *Listener) handle(ctx context.Context, n *pgconn.Notification) {
	l.logger.Debug().Uint32("pid", n.PID).Msg("notification received")

	err := Dispatch(ctx, l.handler, []byte(n.Payload))
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownType):
		metrics.EventsTotal.WithLabelValues("unknown").Inc()
		l.logger.Warn().Err(err).Msg("dropping event of unknown type")
	case errors.Is(err, ErrMalformed):
		metrics.EventsTotal.WithLabelValues("malformed").Inc()
		l.logger.Warn().Err(err).Str("payload", n.Payload).Msg("dropping malformed event")
	default:
		metrics.ErrorsTotal.WithLabelValues("event").Inc()
		l.logger.Error().Err(err).Str("payload", n.Payload).Msg("event handling failed")
	}
}

// nextBackoff doubles current with ±25% jitter, capped at limit.
func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > limit {
		next = limit
	}
	jitter := float64(next) * (0.75 + rand.Float64()*0.5) //nolint:gosec
	return time.Duration(jitter)
}
