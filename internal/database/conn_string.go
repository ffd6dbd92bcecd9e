package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/acquity/roundmarket/internal/config"
)

// applicationName tags marketd sessions in pg_stat_activity.
const applicationName = "marketd"

// BuildConnString returns the URL that Connect hands to pgxpool. Pool sizing
// travels as pool_min_conns/pool_max_conns so the string describes the whole
// pool; zero values leave pgxpool's defaults. Only the postgres driver uses
// this; the memory store needs no connection.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", applicationName)
	if cfg.MaxConns > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.MaxConns))
	}
	if cfg.MinConns > 0 {
		q.Set("pool_min_conns", strconv.Itoa(cfg.MinConns))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
