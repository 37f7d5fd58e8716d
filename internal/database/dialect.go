package database

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/tomatool/ketchup/internal/config"
)

type dialect interface {
	driverName() string
	dsn(opts config.DatabaseConnectionOptions) (string, error)
	quote(ident string) string
	placeholder(n int) string
	defaultSchema(opts config.DatabaseConnectionOptions) string
	// query returning (schema, table) for every base table
	listTablesQuery() string
}

type postgres struct{}

func (postgres) driverName() string { return "postgres" }

func (postgres) dsn(opts config.DatabaseConnectionOptions) (string, error) {
	port := opts.Port
	if port == 0 {
		port = 5432
	}

	params := []string{
		"host=" + pqValue(opts.Host),
		"port=" + strconv.Itoa(port),
		"user=" + pqValue(opts.User),
		"password=" + pqValue(opts.Password),
		"dbname=" + pqValue(opts.Database),
	}
	if opts.SSLCertificatePath != "" {
		if _, err := os.Stat(opts.SSLCertificatePath); err != nil {
			return "", fmt.Errorf("reading ssl certificate: %w", err)
		}
		params = append(params, "sslmode=verify-ca", "sslrootcert="+pqValue(opts.SSLCertificatePath))
	} else {
		params = append(params, "sslmode=disable")
	}
	return strings.Join(params, " "), nil
}

// pqValue quotes a keyword/value connection string value
func pqValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func (postgres) quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (postgres) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgres) defaultSchema(config.DatabaseConnectionOptions) string { return "public" }

func (postgres) listTablesQuery() string {
	return `SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema NOT IN ('pg_catalog', 'information_schema')`
}

type mysqlDialect struct {
	tlsName string
}

func (*mysqlDialect) driverName() string { return "mysql" }

func (d *mysqlDialect) dsn(opts config.DatabaseConnectionOptions) (string, error) {
	port := opts.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(port))
	cfg.DBName = opts.Database
	cfg.ParseTime = true

	if opts.SSLCertificatePath != "" {
		pem, err := os.ReadFile(opts.SSLCertificatePath)
		if err != nil {
			return "", fmt.Errorf("reading ssl certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", fmt.Errorf("no certificates found in %s", opts.SSLCertificatePath)
		}
		d.tlsName = "ketchup-" + opts.Host
		if err := mysql.RegisterTLSConfig(d.tlsName, &tls.Config{RootCAs: pool, ServerName: opts.Host}); err != nil {
			return "", fmt.Errorf("registering tls config: %w", err)
		}
		cfg.TLSConfig = d.tlsName
	}
	return cfg.FormatDSN(), nil
}

func (*mysqlDialect) quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (*mysqlDialect) placeholder(int) string { return "?" }

// In MySQL a schema is a database
func (*mysqlDialect) defaultSchema(opts config.DatabaseConnectionOptions) string { return opts.Database }

func (*mysqlDialect) listTablesQuery() string {
	return `SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema = DATABASE()`
}
