package db

import (
	"fmt"
	"net/url"

	"poolprobe/internal/platform/config"

	"github.com/go-sql-driver/mysql"
)

// DSN renders the driver connection string for t. An explicit t.DSN wins.
func DSN(t config.Target) (string, error) {
	if t.DSN != "" {
		return t.DSN, nil
	}

	switch t.Backend {
	case config.BackendPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     userinfo(t.Credentials),
			Host:     t.Endpoint,
			Path:     "/" + t.Database,
			RawQuery: params(t.Params, nil).Encode(),
		}
		return u.String(), nil

	case config.BackendSQLServer:
		extra := map[string]string{}
		if t.Database != "" {
			extra["database"] = t.Database
		}
		u := url.URL{
			Scheme:   "sqlserver",
			User:     userinfo(t.Credentials),
			Host:     t.Endpoint,
			RawQuery: params(t.Params, extra).Encode(),
		}
		return u.String(), nil

	case config.BackendMySQL:
		mc := mysql.NewConfig()
		mc.User = t.Credentials.User
		mc.Passwd = t.Credentials.Password
		mc.Net = "tcp"
		mc.Addr = t.Endpoint
		mc.DBName = t.Database
		if len(t.Params) > 0 {
			mc.Params = make(map[string]string, len(t.Params))
			for k, v := range t.Params {
				mc.Params[k] = v
			}
		}
		return mc.FormatDSN(), nil

	case config.BackendSQLite:
		if len(t.Params) == 0 {
			return t.Endpoint, nil
		}
		return "file:" + t.Endpoint + "?" + params(t.Params, nil).Encode(), nil

	default:
		return "", fmt.Errorf("db: unsupported backend %q", t.Backend)
	}
}

func userinfo(c config.Credentials) *url.Userinfo {
	if c.User == "" {
		return nil
	}
	if c.Password == "" {
		return url.User(c.User)
	}
	return url.UserPassword(c.User, c.Password)
}

func params(base, extra map[string]string) url.Values {
	q := url.Values{}
	for k, v := range base {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	return q
}
