package tools

import (
	"context"

	"polaris/internal/hpc"
)

// PhysicsPlanner turns a natural-language physics request into a
// calculation plan (input files, submission sketch). Implemented over
// the LLM client.
type PhysicsPlanner interface {
	Plan(ctx context.Context, request string) (string, error)
}

// AgentHandler answers a delegated agent request (PhD research
// routing and similar). Implemented over the LLM client.
type AgentHandler interface {
	Handle(ctx context.Context, request string) (string, error)
}

// RegisterHPCTools registers cluster monitoring and physics tools.
// monitors maps profile name to its monitor; the empty key is the
// default cluster.
func RegisterHPCTools(r *Registry, monitors map[string]*hpc.Monitor, planner PhysicsPlanner) {
	pick := func(name string) *hpc.Monitor {
		if m, ok := monitors[name]; ok {
			return m
		}
		return monitors[""]
	}

	r.MustRegister(&Tool{
		Name:        "monitor_hpc_job",
		Description: "HPC VASP 잡 모니터링. 큐 상태, 출력 파일 나이, 수렴 단계 확인.",
		Category:    CategoryHPC,
		Schema: Schema{
			Required: []string{"job_id", "path"},
			Properties: map[string]Property{
				"job_id":  {Type: "string", Description: "Scheduler job ID (e.g. '12345.polaris-pbs-01')"},
				"path":    {Type: "string", Description: "Absolute path to the calculation directory on the cluster"},
				"cluster": {Type: "string", Description: "Optional cluster profile name. Defaults to the active profile."},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			m := pick(StringArg(args, "cluster"))
			if m == nil {
				return errorJSON("no cluster profile configured"), nil
			}
			report := m.MonitorJob(ctx, StringArg(args, "job_id"), StringArg(args, "path"))
			return okJSON(report), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "check_hpc_connection",
		Description: "HPC SSH 연결 확인.",
		Category:    CategoryHPC,
		Schema:      Schema{Required: []string{}, Properties: map[string]Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			m := pick("")
			if m == nil {
				return errorJSON("no cluster profile configured"), nil
			}
			alive := m.ZombieGuard(ctx)
			message := "connection alive"
			if !alive {
				message = "connection failed or timed out"
			}
			return okJSON(map[string]any{"alive": alive, "message": message}), nil
		},
	})

	r.MustRegister(&Tool{
		Name:        "physics_agent_handle",
		Description: "물리 계산 요청. 밴드 구조, DOS, 구조 최적화 등 VASP/ONETEP 입력 파일 생성.",
		Category:    CategoryHPC,
		Schema: Schema{
			Required: []string{"user_message"},
			Properties: map[string]Property{
				"user_message": {Type: "string", Description: "Natural language request describing the physics calculation (e.g. 'MoS2 band structure calculation')"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if planner == nil {
				return errorJSON("physics planner unavailable"), nil
			}
			plan, err := planner.Plan(ctx, StringArg(args, "user_message"))
			if err != nil {
				return errorJSON("planning failed: " + err.Error()), nil
			}
			return okJSON(map[string]any{"plan": plan}), nil
		},
	})
}

// RegisterPhDTool registers the catch-all research delegate.
func RegisterPhDTool(r *Registry, handler AgentHandler) {
	r.MustRegister(&Tool{
		Name:        "phd_agent_handle",
		Description: "PhD 연구 에이전트. 논문 검색/분석, 물리 계산, TA 이메일 라우팅.",
		Category:    CategoryGeneral,
		Schema: Schema{
			Required: []string{"user_message"},
			Properties: map[string]Property{
				"user_message": {Type: "string", Description: "Natural language request (e.g. 'MoS2 논문 검색해줘', 'DFT band structure calculation')"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			if handler == nil {
				return errorJSON("phd agent unavailable"), nil
			}
			result, err := handler.Handle(ctx, StringArg(args, "user_message"))
			if err != nil {
				return errorJSON("agent failed: " + err.Error()), nil
			}
			return okJSON(map[string]any{"result": result}), nil
		},
	})
}
