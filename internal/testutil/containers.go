// Package testutil starts throwaway backing services for integration tests.
//
// Each service is started at most once per test binary and shared by every
// test that asks for it. All helpers skip the calling test when -short is set.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Give generous timeout in CI environments
const startTimeout = 3 * time.Minute

type service struct {
	once      sync.Once
	container testcontainers.Container
	endpoint  string
	err       error
}

var (
	redisSvc    service
	postgresSvc service
	mongoSvc    service
)

func (s *service) get(t *testing.T, start func(ctx context.Context) (testcontainers.Container, string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}

	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		s.container, s.endpoint, s.err = start(ctx)
	})
	if s.err != nil {
		t.Fatalf("start container: %v", s.err)
	}
	return s.endpoint
}

// RedisAddr returns host:port of a shared Redis container.
func RedisAddr(t *testing.T) string {
	t.Helper()
	return redisSvc.get(t, func(ctx context.Context) (testcontainers.Container, string, error) {
		redisC, err := testcontainers.Run(
			ctx, "redis:latest",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			return nil, "", err
		}
		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background()) // best-effort cleanup
			return nil, "", err
		}
		return redisC, endpoint, nil
	})
}

// PostgresDSN returns a connection string for a shared PostgreSQL container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	return postgresSvc.get(t, func(ctx context.Context) (testcontainers.Container, string, error) {
		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://hexflow:hexflow@%s:%s/hexflow_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "hexflow",
				"POSTGRES_PASSWORD": "hexflow",
				"POSTGRES_DB":       "hexflow_test",
			}),
		)
		if err != nil {
			return nil, "", err
		}
		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background())
			return nil, "", err
		}
		return postgresC, fmt.Sprintf("postgres://hexflow:hexflow@%s/hexflow_test?sslmode=disable", endpoint), nil
	})
}

// MongoURI returns a mongodb:// URI for a shared MongoDB container.
func MongoURI(t *testing.T) string {
	t.Helper()
	return mongoSvc.get(t, func(ctx context.Context) (testcontainers.Container, string, error) {
		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			return nil, "", err
		}
		endpoint, err := mongoC.Endpoint(ctx, "")
		if err != nil {
			_ = mongoC.Terminate(context.Background())
			return nil, "", err
		}
		return mongoC, fmt.Sprintf("mongodb://%s", endpoint), nil
	})
}
