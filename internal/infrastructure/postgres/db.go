package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/repository"
)

const defaultPort = "5432"

// Connector opens one pgx connection per task run.
type Connector struct {
	connectTimeout time.Duration
	logger         *slog.Logger
}

func NewConnector(connectTimeout time.Duration, logger *slog.Logger) *Connector {
	return &Connector{connectTimeout: connectTimeout, logger: logger.With("component", "postgres_source")}
}

func (c *Connector) Connect(ctx context.Context, p domain.ConnectionParams) (repository.ChunkSource, error) {
	cfg, err := pgx.ParseConfig(ConnString(p, c.connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Host, err)
	}

	c.logger.DebugContext(ctx, "connected", "host", cfg.Host, "database", cfg.Database)
	return NewSource(conn, c.logger), nil
}

// ConnString builds a postgres URL from p. The timeout goes into the URL so
// that pgx applies it to the dialer.
func ConnString(p domain.ConnectionParams, connectTimeout time.Duration) string {
	port := p.Port
	if port == "" {
		port = defaultPort
	}

	q := url.Values{}
	q.Set("application_name", "table-sync")
	if secs := int(connectTimeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}
