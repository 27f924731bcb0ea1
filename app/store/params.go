package store

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// supported driver names
const (
	DriverSQLServer = "sqlserver"
	DriverSQLite    = "sqlite"
)

// default connect timeout, keeps requests from hanging on a dead database
const defaultConnectTimeout = 5 * time.Second

// AuthMode defines how the connection authenticates
type AuthMode string

// authentication modes
const (
	AuthCredentials AuthMode = "credentials" // username and password
	AuthIntegrated  AuthMode = "integrated"  // os identity of the running process, sspi or kerberos
)

// Params holds database connection parameters
type Params struct {
	Server         string // host, host:port, host,port or host\instance
	Database       string // database name, file path for sqlite
	Driver         string // sqlserver or sqlite
	Username       string
	Password       string
	ConnectTimeout time.Duration // defaults to 5s
	AppName        string        // reported to sql server, optional
}

// AuthMode returns credentials mode only if both username and password are set
func (p Params) AuthMode() AuthMode {
	if p.Username != "" && p.Password != "" {
		return AuthCredentials
	}
	return AuthIntegrated
}

// Timeout returns connect timeout with default applied
func (p Params) Timeout() time.Duration {
	if p.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return p.ConnectTimeout
}

// DSN makes driver-specific connection string
func (p Params) DSN() (string, error) {
	switch p.Driver {
	case DriverSQLServer:
		return p.sqlServerDSN()
	case DriverSQLite:
		if p.Database == "" {
			return "", fmt.Errorf("empty database path for %s", DriverSQLite)
		}
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", p.Database, p.Timeout().Milliseconds()), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", p.Driver)
	}
}

// String returns connection description safe for logging
func (p Params) String() string {
	return fmt.Sprintf("%s://%s/%s (auth: %s, timeout: %v)", p.Driver, p.Server, p.Database, p.AuthMode(), p.Timeout())
}

// sqlServerDSN makes url-style dsn for go-mssqldb. Integrated mode leaves user info empty and the
// driver picks up the identity of the process: sspi on windows, kerberos elsewhere. Kerberos reads
// /etc/krb5.conf (or KRB5_CONFIG) and the credential cache from KRB5CCNAME, so kinit is required.
func (p Params) sqlServerDSN() (string, error) {
	if p.Server == "" {
		return "", fmt.Errorf("empty server for %s", DriverSQLServer)
	}

	host, instance, _ := strings.Cut(p.Server, `\`)
	host = strings.Replace(host, ",", ":", 1) // odbc style "host,port"

	q := url.Values{}
	if p.Database != "" {
		q.Set("database", p.Database)
	}
	q.Set("connection timeout", strconv.Itoa(int(p.Timeout().Seconds())))
	q.Set("dial timeout", strconv.Itoa(int(p.Timeout().Seconds())))
	if p.AppName != "" {
		q.Set("app name", p.AppName)
	}

	u := &url.URL{Scheme: "sqlserver", Host: host, RawQuery: q.Encode()}
	if instance != "" {
		u.Path = "/" + instance
	}
	if p.AuthMode() == AuthCredentials {
		u.User = url.UserPassword(p.Username, p.Password)
		return u.String(), nil
	}
	if runtime.GOOS != "windows" {
		q.Set("authenticator", "krb5")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
