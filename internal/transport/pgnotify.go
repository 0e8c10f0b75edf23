package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

// Postgres caps NOTIFY payloads at 8000 bytes by default.
const maxNotifyPayload = 7999

const (
	listenMinBackoff = 250 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// listenConn is the part of *pgx.Conn a forwarder needs.
type listenConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// PGNotify is a Topic backed by Postgres LISTEN/NOTIFY. Each forwarder holds a
// dedicated connection and re-dials it with backoff when it drops; publishes
// go through a shared pool.
type PGNotify struct {
	log  *logger.Logger
	dsn  string
	pool *pgxpool.Pool

	dial       func(ctx context.Context, topic string) (listenConn, error)
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPGNotify(ctx context.Context, log *logger.Logger, dsn string) (*PGNotify, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing postgres dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &PGNotify{
		log:        log.With("service", "PGNotifyTopic"),
		dsn:        dsn,
		pool:       pool,
		minBackoff: listenMinBackoff,
		maxBackoff: listenMaxBackoff,
	}
	p.dial = p.listen
	return p, nil
}

func (p *PGNotify) Publish(ctx context.Context, topic string, msg []byte) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("pg notify topic not initialized")
	}
	if len(msg) > maxNotifyPayload {
		return fmt.Errorf("notify payload too large: %d bytes", len(msg))
	}
	_, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", topic, string(msg))
	return err
}

func (p *PGNotify) StartForwarder(ctx context.Context, topic string, onMsg func(msg []byte)) error {
	if p == nil || p.dial == nil {
		return fmt.Errorf("pg notify topic not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	conn, err := p.dial(ctx, topic)
	if err != nil {
		return err
	}
	go p.forward(ctx, topic, conn, onMsg)
	return nil
}

func (p *PGNotify) listen(ctx context.Context, topic string) (listenConn, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("pg listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{topic}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("pg listen: %w", err)
	}
	return conn, nil
}

// forward delivers notifications until ctx is done. Notifications sent while
// the connection is down are lost; waiters fall back to polling for those.
func (p *PGNotify) forward(ctx context.Context, topic string, conn listenConn, onMsg func(msg []byte)) {
	for {
		err := drainNotifications(ctx, conn, onMsg)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		p.log.Warn("pg notification wait failed, reconnecting", "topic", topic, "error", err)
		if conn = p.redial(ctx, topic); conn == nil {
			return
		}
		p.log.Info("pg listener reconnected", "topic", topic)
	}
}

// redial retries until a LISTEN connection is back or ctx is done (nil).
func (p *PGNotify) redial(ctx context.Context, topic string) listenConn {
	backoff := p.minBackoff
	for {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		conn, err := p.dial(ctx, topic)
		if err == nil {
			return conn
		}
		backoff = min(backoff*2, p.maxBackoff)
		p.log.Warn("pg listen reconnect failed", "topic", topic, "error", err, "retry_in", backoff)
	}
}

func drainNotifications(ctx context.Context, conn listenConn, onMsg func(msg []byte)) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		onMsg([]byte(n.Payload))
	}
}

func (p *PGNotify) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}
