// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorkeep Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/doorkeep/doorkeep/internal/auth"
	authpg "github.com/doorkeep/doorkeep/internal/auth/postgres"
	"github.com/doorkeep/doorkeep/internal/store"
	"github.com/doorkeep/doorkeep/internal/web"
)

// testEnv holds all the resources needed for integration tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	server    *httptest.Server
}

// setupTestEnv starts PostgreSQL, applies migrations, and serves the
// full API stack against it.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:    ctx,
		cancel: cancel,
	}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("doorkeep_test"),
		postgres.WithUsername("doorkeep"),
		postgres.WithPassword("doorkeep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	tokens, err := auth.NewTokenManager([]byte("integration-test-secret-32-bytes!"), time.Hour)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	svc, err := auth.NewService(authpg.NewUserRepository(env.pool), auth.NewArgon2idHasher(), tokens)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.server = httptest.NewServer(web.NewRouter(svc, logger, nil))

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	if env.server != nil {
		env.server.Close()
	}
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// postJSON sends a JSON body and returns the status and decoded response.
func (env *testEnv) postJSON(path string, body map[string]string) (int, map[string]any) {
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())

	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(raw))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	return resp.StatusCode, decodeJSON(resp)
}

// getWithToken sends an authenticated GET and returns the status and response.
func (env *testEnv) getWithToken(path, token string) (int, map[string]any) {
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	return resp.StatusCode, decodeJSON(resp)
}

func decodeJSON(resp *http.Response) map[string]any {
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	Expect(json.Unmarshal(raw, &out)).To(Succeed())
	return out
}

var _ = Describe("Authentication flow", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		env.cleanup()
	})

	It("registers an account, logs in, and resolves the session", func() {
		status, body := env.postJSON("/api/register", map[string]string{
			"username": "alice",
			"password": "correct horse battery staple",
		})
		Expect(status).To(Equal(http.StatusCreated))
		Expect(body["username"]).To(Equal("alice"))
		Expect(body["id"]).NotTo(BeEmpty())

		status, body = env.postJSON("/api/login", map[string]string{
			"username": "alice",
			"password": "correct horse battery staple",
		})
		Expect(status).To(Equal(http.StatusOK))
		token, ok := body["access_token"].(string)
		Expect(ok).To(BeTrue())
		Expect(token).NotTo(BeEmpty())

		status, body = env.getWithToken("/api/me", token)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["username"]).To(Equal("alice"))
	})

	It("rejects a login with the wrong password", func() {
		status, body := env.postJSON("/api/login", map[string]string{
			"username": "alice",
			"password": "wrong",
		})
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["code"]).To(Equal("unauthenticated"))
	})

	It("rejects a duplicate registration regardless of case", func() {
		status, body := env.postJSON("/api/register", map[string]string{
			"username": "ALICE",
			"password": "another password",
		})
		Expect(status).To(Equal(http.StatusConflict))
		Expect(body["code"]).To(Equal("conflict"))
	})

	It("admits exactly one winner in a concurrent registration race", func() {
		const racers = 8

		var wg sync.WaitGroup
		results := make(chan int, racers)

		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				status, _ := env.postJSON("/api/register", map[string]string{
					"username": "bob",
					"password": "some password",
				})
				results <- status
			}()
		}
		wg.Wait()
		close(results)

		created, conflicts := 0, 0
		for status := range results {
			switch status {
			case http.StatusCreated:
				created++
			case http.StatusConflict:
				conflicts++
			}
		}
		Expect(created).To(Equal(1), "exactly one registration must win")
		Expect(conflicts).To(Equal(racers - 1))
	})

	It("invalidates nothing on logout but accepts the request", func() {
		status, body := env.postJSON("/api/login", map[string]string{
			"username": "alice",
			"password": "correct horse battery staple",
		})
		Expect(status).To(Equal(http.StatusOK))
		token := body["access_token"].(string)

		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/logout", nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		// Stateless tokens remain valid until expiry; clients discard them.
		status, _ = env.getWithToken("/api/me", token)
		Expect(status).To(Equal(http.StatusOK))
	})
})
