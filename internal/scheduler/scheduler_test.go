package scheduler

import (
	"context"
	"testing"

	"job-agent-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context) error { return nil }

func TestRegisterAppliesDefaultSpecs(t *testing.T) {
	s := NewScheduler(nil, &config.SchedulerConfig{}, nil)
	s.RegisterAggregation(noop)
	s.RegisterEmailSync(noop)
	s.RegisterCleanup(noop)
	s.RegisterScoring(noop)

	require.Len(t, s.tasks, 4)
	assert.Equal(t, defaultAggregateSpec, s.tasks[0].Spec, "缺省配置应使用默认抓取周期")
	assert.Equal(t, defaultEmailSyncSpec, s.tasks[1].Spec)
	assert.Equal(t, defaultCleanupSpec, s.tasks[2].Spec)
	assert.Equal(t, defaultScoringSpec, s.tasks[3].Spec)
}

func TestRegisterKeepsConfiguredSpecs(t *testing.T) {
	s := NewScheduler(nil, &config.SchedulerConfig{AggregateSpec: "0 * * * *"}, nil)
	s.RegisterAggregation(noop)

	assert.Equal(t, "0 * * * *", s.tasks[0].Spec)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := NewScheduler(nil, &config.SchedulerConfig{CleanupSpec: "not a cron spec"}, nil)
	s.RegisterCleanup(noop)

	err := s.Start()
	require.Error(t, err, "非法cron表达式应在启动时报错")
}
