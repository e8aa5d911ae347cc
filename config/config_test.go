package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/config"
)

const databaseYML = `
test:
  adapter: mysql
  database: app_test
  username: app
  password: secret
  host: db-primary
test_slave_database_1:
  adapter: mysql
  database: app_test
  host: db-replica-1
test_slave_database_2:
  adapter: mysql
  database: app_test
  host: db-replica-2
  weight: 10
test_slave_database_3:
  adapter: mysql
  database: app_test
  host: db-replica-3
  weight: -5
test_slave_database_4:
  adapter: mysql
  database: app_test
  host: db-replica-4
  port: 3307
  weight: "10"
development_slave_database:
  adapter: mysql
  database: app_development
`

func TestDiscover(t *testing.T) {
	dbs, err := config.Discover([]byte(databaseYML), "test")
	require.NoError(t, err)

	require.NotNil(t, dbs.Primary)
	require.Equal(t, "test", dbs.Primary.Name)
	require.Equal(t, "db-primary", dbs.Primary.Params["host"])

	var keys, names []string
	var weights []int
	for _, r := range dbs.Replicas {
		keys = append(keys, r.Key)
		names = append(names, r.Name)
		weights = append(weights, r.Weight)
	}
	require.Equal(t, []string{
		"test_slave_database_1",
		"test_slave_database_2",
		"test_slave_database_3",
		"test_slave_database_4",
	}, keys)
	require.Equal(t, []string{
		"slave_database_1",
		"slave_database_2",
		"slave_database_3",
		"slave_database_4",
	}, names)
	require.Equal(t, []int{1, 10, 5, 10}, weights)
}

func TestDiscoverErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"zero weight", "test:\n  adapter: mysql\ntest_slave_database:\n  weight: 0\n"},
		{"invalid weight", "test:\n  adapter: mysql\ntest_slave_database:\n  weight: heavy\n"},
		{"no replicas", "test:\n  adapter: mysql\nproduction_slave_database:\n  adapter: mysql\n"},
		{"not a mapping", "- test\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Discover([]byte(tc.doc), "test")
			var cfgErr multidb.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestDSN(t *testing.T) {
	dbs, err := config.Discover([]byte(databaseYML), "test")
	require.NoError(t, err)

	dsn, err := dbs.Primary.DSN()
	require.NoError(t, err)
	require.Equal(t, "app:secret@tcp(db-primary:3306)/app_test", dsn)

	dsn, err = dbs.Replicas[3].DSN()
	require.NoError(t, err)
	require.Equal(t, "tcp(db-replica-4:3307)/app_test", dsn)

	pg := config.Database{Params: map[string]string{
		"adapter":  "postgresql",
		"database": "app",
		"username": "app",
	}}
	dsn, err = pg.DSN()
	require.NoError(t, err)
	require.Equal(t, "postgres://app@localhost:5432/app", dsn)

	unknown := config.Database{Key: "x", Params: map[string]string{"adapter": "oracle"}}
	_, err = unknown.DSN()
	require.Error(t, err)
}

func TestOpen(t *testing.T) {
	dbs, err := config.Discover([]byte(databaseYML), "test")
	require.NoError(t, err)

	primary, replicas, err := dbs.Open()
	require.NoError(t, err)
	defer primary.Close()
	for _, r := range replicas {
		defer r.Close()
	}

	require.Equal(t, "test", primary.Name())
	require.Len(t, replicas, 4)
	require.Equal(t, "slave_database_2", replicas[1].Name())
	require.Equal(t, 10, replicas[1].Weight())
}
