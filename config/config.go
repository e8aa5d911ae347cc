// Package config discovers the primary and the replica databases of an
// environment from a database.yml style document:
//
//	production:
//	  adapter: mysql
//	  host: db-primary
//	production_slave_database_1:
//	  adapter: mysql
//	  host: db-replica-1
//	  weight: 10
//
// Replica entries are named "<env>_slave_database" followed by anything and
// are returned in document order.
package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/mysql"
	"github.com/ice-blockchain/go-multidb/pgsql"
	"github.com/ice-blockchain/go-multidb/sqldb"
)

// Database is one entry of the document.
type Database struct {
	// Key is the entry name, e.g. "production_slave_database_1".
	Key string
	// Name is the key without the environment prefix, e.g.
	// "slave_database_1". The primary is named after the environment.
	Name   string
	Weight int
	Params map[string]string
}

type Databases struct {
	Primary  *Database
	Replicas []Database
}

// Discover reads the databases of env. A replica weight that is blank
// defaults to 1, a negative one counts as its absolute value and zero is
// an error. An environment without replicas is an error as well.
func Discover(doc []byte, env string) (Databases, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return Databases{}, err
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return Databases{}, multidb.ConfigError{Msg: "database configuration must be a mapping"}
	}

	replicaKey := regexp.MustCompile("^" + regexp.QuoteMeta(env) + "_(slave_database.*)$")

	var ret Databases
	entries := root.Content[0].Content
	for i := 0; i+1 < len(entries); i += 2 {
		key := entries[i].Value
		switch {
		case key == env:
			params, err := decodeParams(key, entries[i+1])
			if err != nil {
				return Databases{}, err
			}
			ret.Primary = &Database{Key: key, Name: env, Weight: 1, Params: params}
		case replicaKey.MatchString(key):
			params, err := decodeParams(key, entries[i+1])
			if err != nil {
				return Databases{}, err
			}
			weight, err := parseWeight(key, params["weight"])
			if err != nil {
				return Databases{}, err
			}
			ret.Replicas = append(ret.Replicas, Database{
				Key:    key,
				Name:   replicaKey.FindStringSubmatch(key)[1],
				Weight: weight,
				Params: params,
			})
		}
	}

	if len(ret.Replicas) == 0 {
		return Databases{}, multidb.ConfigError{
			Msg: fmt.Sprintf("no replica databases defined for environment %s", env),
		}
	}
	return ret, nil
}

func decodeParams(key string, node *yaml.Node) (map[string]string, error) {
	params := map[string]string{}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return params, nil
	}
	if err := node.Decode(&params); err != nil {
		return nil, multidb.ConfigError{Replica: key, Msg: err.Error()}
	}
	return params, nil
}

func parseWeight(key, value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 1, nil
	}
	weight, err := strconv.Atoi(value)
	if err != nil {
		return 0, multidb.ConfigError{Replica: key, Msg: fmt.Sprintf("invalid weight %q", value)}
	}
	if weight < 0 {
		weight = -weight
	}
	if weight == 0 {
		return 0, multidb.ConfigError{Replica: key, Msg: "weight can't be zero"}
	}
	return weight, nil
}

// DSN builds a driver connection string from the entry. A "url" parameter
// is used as is.
func (d Database) DSN() (string, error) {
	if u := d.Params["url"]; u != "" {
		return u, nil
	}

	host := d.Params["host"]
	if host == "" {
		host = "localhost"
	}
	switch d.Params["adapter"] {
	case "mysql", "mysql2":
		cfg := gomysql.NewConfig()
		cfg.User = d.Params["username"]
		cfg.Passwd = d.Params["password"]
		cfg.DBName = d.Params["database"]
		if socket := d.Params["socket"]; socket != "" {
			cfg.Net = "unix"
			cfg.Addr = socket
		} else {
			cfg.Net = "tcp"
			cfg.Addr = net.JoinHostPort(host, withDefault(d.Params["port"], "3306"))
		}
		return cfg.FormatDSN(), nil
	case "postgresql", "postgres", "pgx":
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(host, withDefault(d.Params["port"], "5432")),
			Path:   "/" + d.Params["database"],
		}
		if user := d.Params["username"]; user != "" {
			if password := d.Params["password"]; password != "" {
				u.User = url.UserPassword(user, password)
			} else {
				u.User = url.User(user)
			}
		}
		return u.String(), nil
	}
	return "", multidb.ConfigError{Replica: d.Key, Msg: fmt.Sprintf("unsupported adapter %q", d.Params["adapter"])}
}

func withDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// Open opens a pool for the entry with the driver its adapter names.
func (d Database) Open() (*sqldb.Handle, error) {
	dsn, err := d.DSN()
	if err != nil {
		return nil, err
	}
	switch d.Params["adapter"] {
	case "postgresql", "postgres", "pgx":
		return pgsql.Open(d.Name, d.Weight, dsn)
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return pgsql.Open(d.Name, d.Weight, dsn)
	}
	return mysql.Open(d.Name, d.Weight, dsn)
}

// Open opens the primary and every replica. Pools opened before a failure
// are closed.
func (dbs Databases) Open() (*sqldb.Handle, []*sqldb.Handle, error) {
	if dbs.Primary == nil {
		return nil, nil, multidb.ConfigError{Msg: "no primary database defined"}
	}

	var opened []*sqldb.Handle
	fail := func(err error) (*sqldb.Handle, []*sqldb.Handle, error) {
		for _, h := range opened {
			_ = h.Close()
		}
		return nil, nil, err
	}

	primary, err := dbs.Primary.Open()
	if err != nil {
		return fail(err)
	}
	opened = append(opened, primary)

	replicas := make([]*sqldb.Handle, 0, len(dbs.Replicas))
	for _, r := range dbs.Replicas {
		h, err := r.Open()
		if err != nil {
			return fail(err)
		}
		opened = append(opened, h)
		replicas = append(replicas, h)
	}
	return primary, replicas, nil
}
