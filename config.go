package commhub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

/*

Example config:

{
	"HTTP": {
		"CookieName":	"commsession",
		"CookieSecure":	true,
		"Port":			8080,
		"Bind":			"127.0.0.1"
	},
	"DB": {
		"Driver":		"postgres",
		"Host":			"db.example.org",
		"Port":			5432,
		"Database": 	"commhub",
		"User":			"commhub",
		"Password":		"123",
		"SSL":			true
	},
	"Log": {
		"Filename":		"/var/log/commhub/commhub.log"
	},
	"Docs": {
		"StaticCheckout":	"/srv/static"
	},
	"Mail": {
		"SMTPServer":		"localhost:25",
		"NoReplyFrom":		"noreply@community.example.org",
		"DocsCommentsTo":	"docs@community.example.org"
	}
}

*/

type ConfigHTTP struct {
	CookieName   string
	CookieSecure bool
	Port         int
	Bind         string
}

type ConfigLog struct {
	Filename string
}

// ConfigDocs holds the paths and knobs of the documentation subsystem.
// StaticCheckout is the root of the static file checkout, used to discover
// per-version PDF manuals.
type ConfigDocs struct {
	StaticCheckout string
}

type ConfigMail struct {
	// SMTPServer is host:port of the outgoing relay. Empty means mails are
	// logged instead of sent.
	SMTPServer     string
	NoReplyFrom    string
	DocsCommentsTo string
}

type Config struct {
	HTTP ConfigHTTP
	DB   DBConnection
	Log  ConfigLog
	Docs ConfigDocs
	Mail ConfigMail
}

func (x *Config) Reset() {
	*x = Config{}
	x.HTTP.CookieName = "commsession"
	x.HTTP.Bind = "127.0.0.1"
	x.HTTP.Port = 8080
	x.DB.Driver = "postgres"
	x.DB.Port = 5432
}

func (x *Config) LoadFile(filename string) error {
	x.Reset()
	all, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(all, x); err != nil {
		return err
	}
	return nil
}

type DBConnection struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      bool
}

func (x *DBConnection) Connect() (*sql.DB, error) {
	return sql.Open(x.Driver, x.ConnectionString())
}

func (x *DBConnection) ConnectionString() string {
	sslmode := "disable"
	if x.SSL {
		sslmode = "require"
	}
	conx := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=%v", x.Host, x.User, x.Password, x.Database, sslmode)
	if x.Port != 0 {
		conx += fmt.Sprintf(" port=%v", x.Port)
	}
	return conx
}
