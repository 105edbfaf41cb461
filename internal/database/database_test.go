package database

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestPostgresOptionsDefaults(t *testing.T) {
	opts := PostgresOptions{}.withDefaults()
	require.Equal(t, 25, opts.MaxOpenConns)
	require.Equal(t, 12, opts.MaxIdleConns)
	require.Equal(t, 30*time.Minute, opts.ConnMaxLifetime)

	opts = PostgresOptions{MaxOpenConns: 4, MaxIdleConns: 9}.withDefaults()
	require.Equal(t, 4, opts.MaxOpenConns)
	require.Equal(t, 2, opts.MaxIdleConns)
}

func TestConnectPostgresRequiresURL(t *testing.T) {
	_, err := ConnectPostgres("", PostgresOptions{})
	require.Error(t, err)
}

func TestConnectRedisAppliesOptions(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client, err := ConnectRedis("redis://"+server.Addr()+"/2", RedisOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.Equal(t, 2, client.Options().DB)
	require.Equal(t, 3*time.Second, client.Options().DialTimeout)

	fast, err := ConnectRedis("redis://"+server.Addr(), RedisOptions{DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fast.Close() })
	require.Equal(t, time.Second, fast.Options().DialTimeout)

	_, err = ConnectRedis("", RedisOptions{})
	require.Error(t, err)
	_, err = ConnectRedis("not a url", RedisOptions{})
	require.Error(t, err)
}
