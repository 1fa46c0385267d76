package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/service"
)

// TestServiceManager_Lifecycle starts the stack in dependency order and checks
// every service reports running, then stopped after shutdown.
func TestServiceManager_Lifecycle(t *testing.T) {
	env := SetupTestEnvironment(t, `{"is_danger": false}`)
	s := buildStack(t, env)

	assert.Equal(t, 3, s.manager.GetServiceCount())
	s.start(t)

	for _, name := range []string{"analysis-remote", "capture", "monitor"} {
		status := s.manager.GetServiceStatus(name)
		require.NotNil(t, status, name)
		assert.Equal(t, service.StatusRunning, status.GetStatus(), name)
	}

	s.shutdown(t)

	for name, status := range s.manager.GetAllStatuses() {
		assert.Equal(t, service.StatusStopped, status.GetStatus(), name)
	}
}

// TestServiceManager_EventBus checks monitor events reach subscribers on the
// manager's bus.
func TestServiceManager_EventBus(t *testing.T) {
	env := SetupTestEnvironment(t, dangerVerdict)
	s := buildStack(t, env)

	triggered := s.manager.GetEventBus().Subscribe(service.EventTypeAlertTriggered)
	s.start(t)
	defer s.shutdown(t)

	select {
	case event := <-triggered:
		assert.Equal(t, "monitor", event.Source)
		assert.Equal(t, "person fell", event.Data["reasoning"])
	case <-time.After(5 * time.Second):
		t.Fatal("alert.triggered event not published")
	}
}

func TestHealth_ReportsLiveStack(t *testing.T) {
	env := SetupTestEnvironment(t, `{"is_danger": false}`)
	s := buildStack(t, env)

	healthMgr := health.NewManager(env.Logger, s.manager)
	healthMgr.RegisterChecker(health.NewCaptureChecker(s.pipeline))
	healthMgr.RegisterChecker(health.NewDetectorChecker(s.detector, env.Config.Detector.ServiceURL))
	healthMgr.RegisterChecker(health.NewAnalysisChecker(s.dispatcher, env.Config.Analysis.Provider))
	healthMgr.RegisterChecker(health.NewDatabaseChecker(env.Store))

	s.start(t)
	ctx := context.Background()
	report := healthMgr.Check(ctx)
	assert.Equal(t, health.StatusHealthy, report.Status, "%+v", report.Checks)
	assert.True(t, report.Ready())
	assert.Len(t, report.Checks, 4)
	assert.Contains(t, report.Services, "capture")

	s.shutdown(t)
	report = healthMgr.Check(ctx)
	assert.Equal(t, health.StatusUnhealthy, report.Checks["capture"].Status)
	assert.False(t, report.Ready())
}
