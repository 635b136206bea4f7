package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"polaris/internal/config"
	"polaris/internal/hpc"
)

type cannedRunner struct {
	byPrefix map[string]string
}

func (c cannedRunner) Run(_ context.Context, command string, _ time.Duration) (string, string, error) {
	for prefix, out := range c.byPrefix {
		if strings.HasPrefix(command, prefix) {
			return out, "", nil
		}
	}
	return "", "", context.DeadlineExceeded
}

func hpcRegistry(t *testing.T, runner hpc.Runner) *Registry {
	t.Helper()
	profile := config.ClusterProfile{Name: "polaris", Scheduler: "pbs", Username: "jb27"}
	reg := NewRegistry()
	RegisterHPCTools(reg, map[string]*hpc.Monitor{
		"":        hpc.NewMonitor(profile, runner),
		"polaris": hpc.NewMonitor(profile, runner),
	}, nil)
	return reg
}

func TestMonitorHPCJobTool(t *testing.T) {
	reg := hpcRegistry(t, cannedRunner{byPrefix: map[string]string{
		"qstat": "12345  vasp jb27 01:02 a b c d e R\n",
		"stat":  "9999999999\n",
		"tail":  "  3 F= -.55E+02 E0= -.55E+02\n",
	}})

	res, err := reg.Execute(context.Background(), "monitor_hpc_job", map[string]any{
		"job_id": "12345",
		"path":   "/lus/eagle/run",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Result, `"job_id":"12345"`) {
		t.Errorf("payload = %s", res.Result)
	}
}

func TestCheckHPCConnectionTool(t *testing.T) {
	reg := hpcRegistry(t, cannedRunner{byPrefix: map[string]string{
		"echo": "heartbeat\n",
	}})

	res, err := reg.Execute(context.Background(), "check_hpc_connection", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Result, `"alive":true`) {
		t.Errorf("payload = %s", res.Result)
	}
}

func TestHPCToolsWithoutProfile(t *testing.T) {
	reg := NewRegistry()
	RegisterHPCTools(reg, map[string]*hpc.Monitor{}, nil)

	res, err := reg.Execute(context.Background(), "check_hpc_connection", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Result, "no cluster profile") {
		t.Errorf("payload = %s", res.Result)
	}
}

type echoPlanner struct{}

func (echoPlanner) Plan(_ context.Context, request string) (string, error) {
	return "plan for: " + request, nil
}

func TestPhysicsAgentTool(t *testing.T) {
	reg := NewRegistry()
	RegisterHPCTools(reg, map[string]*hpc.Monitor{}, echoPlanner{})

	res, err := reg.Execute(context.Background(), "physics_agent_handle", map[string]any{
		"user_message": "MoS2 band structure calculation",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Result, "MoS2 band structure") {
		t.Errorf("payload = %s", res.Result)
	}
}

type echoAgent struct{}

func (echoAgent) Handle(_ context.Context, request string) (string, error) {
	return "handled: " + request, nil
}

func TestPhDAgentTool(t *testing.T) {
	reg := NewRegistry()
	RegisterPhDTool(reg, echoAgent{})

	res, err := reg.Execute(context.Background(), "phd_agent_handle", map[string]any{
		"user_message": "연구 진행 상황 정리해줘",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Result, "handled:") {
		t.Errorf("payload = %s", res.Result)
	}
}
