package presets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/mirkobrombin/go-verrou/v1/adapter"
	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
	"github.com/mirkobrombin/go-verrou/v1/lock"
	"github.com/mirkobrombin/go-verrou/v1/registry"
)

func acquireOnce(t *testing.T, build registry.StoreFactory) {
	t.Helper()
	store, err := build()
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() { _ = store.Disconnect(ctx) })

	f := lock.NewFactory(store)
	l := f.CreateLock("preset", lock.WithTTL(time.Minute))
	if ok, err := l.AcquireImmediately(ctx); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if ok, err := f.CreateLock("preset").AcquireImmediately(ctx); err != nil || ok {
		t.Fatalf("second acquire should fail: %v %v", ok, err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestMemory(t *testing.T) {
	acquireOnce(t, Memory())
}

func TestRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	acquireOnce(t, Redis(RedisOptions{Addr: mr.Addr(), KeyPrefix: "app:"}))
	if mr.Exists("preset") {
		t.Fatalf("prefix not applied")
	}
}

func TestDatabaseSQLite(t *testing.T) {
	acquireOnce(t, Database(DatabaseOptions{
		Dialect: "sqlite",
		DSN:     "file:presets?mode=memory&cache=shared",
		Table:   "preset_locks",
	}))
}

func TestDialector(t *testing.T) {
	for _, d := range []string{"sqlite", "mysql", "postgres", "PG"} {
		if _, err := Dialector(d, "dsn"); err != nil {
			t.Fatalf("Dialector(%s): %v", d, err)
		}
	}
	if _, err := Dialector("oracle", "dsn"); !errors.Is(err, verrouerrors.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
	if _, err := Database(DatabaseOptions{Dialect: "oracle"})(); !errors.Is(err, verrouerrors.ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestDynamoDB(t *testing.T) {
	build := DynamoDB(DynamoDBOptions{
		Table:           "locks",
		Region:          "eu-west-1",
		Endpoint:        "http://127.0.0.1:8000",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	store, err := build()
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	if _, ok := store.(*adapter.DynamoDBStore); !ok {
		t.Fatalf("expected a DynamoDBStore, got %T", store)
	}
}
