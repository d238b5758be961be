package stack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	calls   [][]string
	outputs []string
	err     error
}

func (r *recorder) run(_ context.Context, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	out := ""
	if len(r.outputs) > 0 {
		out = r.outputs[0]
		if len(r.outputs) > 1 {
			r.outputs = r.outputs[1:]
		}
	}
	return []byte(out), r.err
}

func TestComposeCommands(t *testing.T) {
	rec := &recorder{}
	c := NewCompose("stack.yml", "bench", WithRunner(rec.run))
	ctx := context.Background()

	require.NoError(t, c.Up(ctx))
	require.NoError(t, c.Stop(ctx, "mongodb"))
	require.NoError(t, c.Start(ctx, "mongodb"))
	require.NoError(t, c.Down(ctx))

	want := []string{
		"compose -f stack.yml -p bench up -d",
		"compose -f stack.yml -p bench stop mongodb",
		"compose -f stack.yml -p bench start mongodb",
		"compose -f stack.yml -p bench down",
	}
	got := make([]string, 0, len(rec.calls))
	for _, call := range rec.calls {
		got = append(got, strings.Join(call, " "))
	}
	assert.Equal(t, want, got)
}

func TestComposeDefaults(t *testing.T) {
	c := NewCompose("", "")
	assert.Equal(t, DefaultProject, c.Project())
	assert.Equal(t, DefaultComposeFile, c.file)
}

func TestComposeErrorIncludesOutput(t *testing.T) {
	rec := &recorder{outputs: []string{"no such service: nope"}, err: errors.New("exit status 1")}
	c := NewCompose("stack.yml", "bench", WithRunner(rec.run))

	err := c.Stop(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker compose stop failed for bench")
	assert.Contains(t, err.Error(), "no such service: nope")
}

func TestParseComposeServices(t *testing.T) {
	lines := `{"Name":"storebench-postgres-1","Service":"postgres","State":"running","Health":"healthy"}
{"Name":"storebench-mongodb-1","Service":"mongodb","State":"running","Health":"starting"}`
	services, err := parseComposeServices([]byte(lines))
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "starting", services[1].Health)

	array := `[{"Name":"storebench-redis-1","State":"running"}]`
	services, err = parseComposeServices([]byte(array))
	require.NoError(t, err)
	require.Len(t, services, 1)

	services, err = parseComposeServices([]byte("  "))
	require.NoError(t, err)
	assert.Empty(t, services)

	_, err = parseComposeServices([]byte("{broken"))
	assert.Error(t, err)
}

func TestExtractServiceName(t *testing.T) {
	assert.Equal(t, "postgres", extractServiceName("storebench-postgres-1", "storebench"))
	assert.Equal(t, "qdrant", extractServiceName("storebench-qdrant", "storebench"))
	assert.Equal(t, "other", extractServiceName("other", "storebench"))
}

func TestHealthFallsBackToState(t *testing.T) {
	rec := &recorder{outputs: []string{`[{"Name":"storebench-redis-1","State":"running"},{"Name":"storebench-postgres-1","Service":"postgres","State":"running","Health":"healthy"}]`}}
	c := NewCompose("stack.yml", "storebench", WithRunner(rec.run))

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"redis": "running", "postgres": "healthy"}, health)
}

func TestWaitHealthy(t *testing.T) {
	rec := &recorder{outputs: []string{
		`{"Service":"postgres","State":"running","Health":"starting"}`,
		`{"Service":"postgres","State":"running","Health":"healthy"}`,
	}}
	c := NewCompose("stack.yml", "storebench", WithRunner(rec.run), WithPollInterval(5*time.Millisecond))

	require.NoError(t, c.WaitHealthy(context.Background(), time.Second, "postgres"))
	assert.Len(t, rec.calls, 2)
}

func TestWaitHealthyTimesOut(t *testing.T) {
	rec := &recorder{outputs: []string{`{"Service":"postgres","State":"running","Health":"starting"}`}}
	c := NewCompose("stack.yml", "storebench", WithRunner(rec.run), WithPollInterval(5*time.Millisecond))

	err := c.WaitHealthy(context.Background(), 30*time.Millisecond, "postgres", "mongodb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service mongodb not found")
}
