package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/agent"
	"github.com/quantumflow/scribe/internal/doctor"
	"github.com/quantumflow/scribe/internal/models"
)

func newReplCmd(appFn appProvider) *cobra.Command {
	var (
		agentType string
		userID    string
	)
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive writing session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}
			s := &session{app: a, cmd: cmd, out: cmd.OutOrStdout(), userID: userID}
			if err := s.setAgent(agentType); err != nil {
				return err
			}

			stop := a.startBackground(cmd.Context())
			defer stop()

			return s.run(cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&agentType, "agent-type", string(models.AgentTypeWritingAssistant), "initial agent type, or auto")
	cmd.Flags().StringVar(&userID, "user", "", "writer identifier")
	return cmd
}

type session struct {
	app       *app
	cmd       *cobra.Command
	out       io.Writer
	agentType models.AgentType
	auto      bool
	userID    string
	document  strings.Builder
}

func (s *session) run(in io.Reader) error {
	s.banner()
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(s.out, "%s> ", s.prompt())
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := s.command(input); quit {
				return nil
			}
			continue
		}

		agentType := s.agentType
		if s.auto {
			route := s.app.router.Route(s.cmd.Context(), input)
			agentType = route.AgentType
			fmt.Fprintf(s.out, "→ %s (%.0f%%)\n", agentType, route.Confidence*100)
		}
		resp := s.app.orchestrator.ExecuteAgent(s.cmd.Context(), &models.AgentRequest{
			AgentType: agentType,
			Input:     input,
			Context: models.RequestContext{
				Document: s.document.String(),
				UserID:   s.userID,
			},
		})
		fmt.Fprintln(s.out)
		printResponse(s.out, resp)
		fmt.Fprintln(s.out)
		if resp.Success {
			s.document.WriteString(resp.Data)
			s.document.WriteString("\n\n")
		}
	}
}

func (s *session) command(line string) (quit bool) {
	parts := strings.Fields(line)
	ctx := s.cmd.Context()

	switch parts[0] {
	case "/help":
		fmt.Fprintln(s.out, "\nCommands: /agent <type> /health /doctor <task> /compact /strategy /document /clear /exit")
		fmt.Fprintf(s.out, "Agent types: %s, auto\n\n", agentTypeList())
	case "/agent":
		if len(parts) < 2 {
			fmt.Fprintf(s.out, "\nUsage: /agent <type>\nAgent types: %s\n\n", agentTypeList())
			return false
		}
		if err := s.setAgent(parts[1]); err != nil {
			fmt.Fprintf(s.out, "❌ %v\n\n", err)
			return false
		}
		fmt.Fprintf(s.out, "✓ Switched to %s\n\n", s.prompt())
	case "/health":
		res, _ := s.app.doctor.Execute(ctx, doctor.Task{Kind: doctor.TaskHealthCheck})
		printTaskResult(s.out, res)
		fmt.Fprintln(s.out)
	case "/doctor":
		if len(parts) < 2 {
			fmt.Fprint(s.out, "\nUsage: /doctor <health-check|emergency-response|system-optimization|predictive-analysis>\n\n")
			return false
		}
		kind, err := doctor.ParseTaskKind(parts[1])
		if err == nil && kind == doctor.TaskSpawnAgent {
			err = fmt.Errorf("use `scribe doctor spawn-agent` to spawn agents")
		}
		if err != nil {
			fmt.Fprintf(s.out, "❌ %v\n\n", err)
			return false
		}
		res, err := s.app.doctor.Execute(ctx, doctor.Task{Kind: kind})
		if err != nil {
			fmt.Fprintf(s.out, "❌ %v\n\n", err)
			return false
		}
		printTaskResult(s.out, res)
		fmt.Fprintln(s.out)
	case "/compact":
		res, err := s.app.engine.Compact(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "❌ %v\n\n", err)
			return false
		}
		fmt.Fprintf(s.out, "✓ Compacted: %d summaries, %d patterns, %d essences created\n\n", res.Summaries.Created, res.Patterns.Created, res.Essences.Created)
	case "/strategy":
		printStrategy(s.cmd, s.app.orchestrator.GetMigrationStrategy())
		fmt.Fprintln(s.out)
	case "/document":
		if s.document.Len() == 0 {
			fmt.Fprint(s.out, "\nNo document yet\n\n")
			return false
		}
		fmt.Fprintf(s.out, "\n%s\n", s.document.String())
	case "/clear", "/new":
		s.document.Reset()
		fmt.Fprint(s.out, "✓ Document cleared\n\n")
	case "/exit", "/quit":
		fmt.Fprintln(s.out, "Goodbye! 👋")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command %s, try /help\n\n", parts[0])
	}
	return false
}

func (s *session) setAgent(name string) error {
	if strings.EqualFold(name, agent.AutoAgentType) {
		s.auto = true
		return nil
	}
	t, err := models.ParseAgentType(name)
	if err != nil {
		return err
	}
	s.agentType, s.auto = t, false
	return nil
}

func (s *session) prompt() string {
	if s.auto {
		return agent.AutoAgentType
	}
	return string(s.agentType)
}

func (s *session) banner() {
	fmt.Fprintf(s.out, `
╔═════════════════════════════════════════════════════════╗
║            scribe creative-writing assistant            ║
║   %-52s  ║
╚═════════════════════════════════════════════════════════╝

Type /help for commands.

`, "version "+version)
}
