package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantumflow/scribe/internal/models"
)

type execOptions struct {
	documentFile string
	selection    string
	userID       string
	prefer       string
	tone         string
	style        string
	asJSON       bool
}

func newExecCmd(appFn appProvider) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec <agent-type> <request...>",
		Short: "Run one request through the orchestrator",
		Long:  "Run one request through the orchestrator. Agent types: " + agentTypeList() + ", or auto to route by request.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFn(cmd)
			if err != nil {
				return err
			}

			input := strings.Join(args[1:], " ")
			agentType, err := a.resolveAgentType(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			req, err := opts.request(agentType, input)
			if err != nil {
				return err
			}

			resp := a.orchestrator.ExecuteAgent(cmd.Context(), req)
			if opts.asJSON {
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				printResponse(cmd.OutOrStdout(), resp)
			}
			if !resp.Success {
				return fmt.Errorf("%s agent failed: %s", agentType, resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.documentFile, "document", "", "file holding the current document")
	cmd.Flags().StringVar(&opts.selection, "selection", "", "selected text")
	cmd.Flags().StringVar(&opts.userID, "user", "", "writer identifier")
	cmd.Flags().StringVar(&opts.prefer, "prefer", "", "force an implementation: enhanced or legacy")
	cmd.Flags().StringVar(&opts.tone, "tone", "", "preferred tone")
	cmd.Flags().StringVar(&opts.style, "style", "", "preferred style")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func (o *execOptions) request(agentType models.AgentType, input string) (*models.AgentRequest, error) {
	req := &models.AgentRequest{
		AgentType: agentType,
		Input:     input,
		Context: models.RequestContext{
			Selection: o.selection,
			UserID:    o.userID,
		},
		Preferences: models.Preferences{
			Implementation: o.prefer,
			Tone:           o.tone,
			Style:          o.style,
		},
	}
	if o.documentFile != "" {
		data, err := os.ReadFile(o.documentFile)
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		req.Context.Document = string(data)
		req.Context.DocumentID = o.documentFile
	}
	return req, nil
}

func printResponse(w io.Writer, resp *models.AgentResponse) {
	if resp.Success {
		fmt.Fprintf(w, "%s\n\n", resp.Data)
	} else {
		fmt.Fprintf(w, "❌ %s (%s)\n\n", resp.Error, resp.ErrorKind)
	}
	fallback := ""
	if resp.FallbackUsed {
		fallback = " | ↩ fallback"
	}
	fmt.Fprintf(w, "⏱ %.2fs | 🤖 %s | ⭐ %.1f%s\n", resp.ExecutionTime.Seconds(), resp.AgentUsed, resp.QualityScore, fallback)
	for _, r := range resp.Recommendations {
		fmt.Fprintf(w, "  • %s\n", r)
	}
}

func agentTypeList() string {
	types := models.AllAgentTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
