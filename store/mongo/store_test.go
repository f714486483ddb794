//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskq/store"
	mongostore "github.com/xraph/taskq/store/mongo"
	"github.com/xraph/taskq/store/storetest"
)

func startMongo(t *testing.T) *mongod.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongo container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func TestConformance(t *testing.T) {
	client := startMongo(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var n atomic.Int64

	// A fresh database per case keeps the cases independent.
	storetest.Run(t, func(t *testing.T) store.Store {
		db := client.Database(fmt.Sprintf("taskq_test_%d", n.Add(1)))
		s := mongostore.New(db, mongostore.WithLogger(logger))
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
		return s
	})
}
