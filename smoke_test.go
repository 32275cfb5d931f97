package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureworker/features/feature"
	"featureworker/internal/app"
	"featureworker/internal/config"
	"featureworker/internal/queue"
	"featureworker/internal/testutils"
)

func TestSmoke_CreatedJobIsAudited(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	// 1. Start Infrastructure
	suite := testutils.NewIntegrationSuite(t)
	suite.StartPostgres()
	suite.StartRedis()
	defer suite.Teardown()

	// 2. Configure App to use Infrastructure
	cfg := suite.GetAppConfig()
	cfg.Transport = config.TransportRedis
	cfg.RedisPrefix = "smoke"
	cfg.ServerPort = 18081
	cfg.LeaseDuration = 2 * time.Minute

	_, b, _, _ := runtime.Caller(0)
	cfg.MigrationPath = fmt.Sprintf("file://%s/migrations", filepath.Dir(b))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Bootstrap(ctx, cfg)
	require.NoError(t, err)
	defer deps.Close()

	a, err := app.New(cfg, deps.DB, deps.Transport, slog.Default())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// 3. Wait for Health Check
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18081/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 200*time.Millisecond)

	// 4. Create a feature; the worker audits it.
	f, err := a.Features.Create(ctx, "org-1", "u1", feature.CreateInput{Name: "Beta"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var n int
		err := deps.DB.QueryRow(`SELECT COUNT(*) FROM audit_logs WHERE resource_id = $1 AND action = $2`,
			f.ID, feature.AuditFeatureCreated).Scan(&n)
		return err == nil && n == 1
	}, 10*time.Second, 100*time.Millisecond)

	// 5. A job for a missing feature ends up in the dead-letter table.
	env, err := queue.NewEnvelope(queue.CreatedPayload{FeatureID: "00000000-0000-0000-0000-000000000000", OrganizationID: "org-1", UserID: "u1"}, "")
	require.NoError(t, err)
	require.NoError(t, deps.Transport.Enqueue(ctx, env))

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18081/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Data struct {
				FailedJobs int `json:"failed_jobs"`
			} `json:"data"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && body.Data.FailedJobs == 1
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("app did not stop")
	}
}
