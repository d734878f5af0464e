package store

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultSQLitePath      = "catalog.db"
)

// Option describes how to reach the mapping catalog database.
type Option struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string
	// DSN overrides every other connection field when set.
	DSN    string
	Config *gorm.Config
}

// Open connects to the catalog database described by opt.
func Open(opt Option) (*gorm.DB, error) {
	dialector, err := opt.dialector()
	if err != nil {
		return nil, err
	}
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s catalog: %w", opt.driver(), err)
	}
	return db, nil
}

func (opt Option) driver() string {
	d := strings.ToLower(opt.Driver)
	if d == "" || d == "postgresql" {
		return DriverPostgres
	}
	return d
}

func (opt Option) dialector() (gorm.Dialector, error) {
	switch opt.driver() {
	case DriverPostgres:
		return postgres.Open(opt.dsn()), nil
	case DriverSQLite:
		path := opt.DSN
		if path == "" {
			path = opt.Database
		}
		if path == "" {
			path = defaultSQLitePath
		}
		return sqlite.Open(path), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", opt.Driver)
}

func (opt Option) dsn() string {
	if opt.DSN != "" {
		return opt.DSN
	}
	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	for k, v := range opt.Params {
		if k != "" {
			query.Set(k, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
