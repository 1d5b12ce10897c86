package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/Jacky040124/openquest/internal/agent"
	"github.com/Jacky040124/openquest/internal/rpc"
	agentrpc "github.com/Jacky040124/openquest/internal/rpc/agent"
	"github.com/Jacky040124/openquest/internal/rpc/connectjson"
)

// NewAnalyzeCmd streams an issue analysis from the daemon.
func NewAnalyzeCmd(opts *Options) *cobra.Command {
	var issueNumber int
	var issueTitle string
	var issueBody string
	var bodyFile string
	var modelOverride string

	cmd := &cobra.Command{
		Use:   "analyze <repo-url>",
		Short: "Analyze a GitHub issue and stream the agent's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read issue body: %w", err)
				}
				issueBody = string(data)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			reqBody := rpc.AnalyzeRequest{
				RepoURL:     args[0],
				IssueNumber: issueNumber,
				IssueTitle:  issueTitle,
				IssueBody:   issueBody,
				Model:       modelOverride,
			}

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return streamNDJSON(ctx, cmd, baseURL+"/agent/analyze", reqBody)
			default:
				return streamConnect(ctx, cmd, baseURL+agentrpc.ConnectAnalyzeProcedure,
					rpc.AgentStreamRequest{Analyze: &reqBody})
			}
		},
	}

	cmd.Flags().IntVar(&issueNumber, "issue", 0, "Issue number")
	cmd.Flags().StringVar(&issueTitle, "title", "", "Issue title")
	cmd.Flags().StringVar(&issueBody, "body", "", "Issue body text")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read issue body from a file")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override model id for this run")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func streamNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt agent.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(cmd, evt); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func streamConnect(ctx context.Context, cmd *cobra.Command, url string, first rpc.AgentStreamRequest) error {
	client := connect.NewClient[rpc.AgentStreamRequest, agent.Event](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&first); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.AgentStreamRequest{Cancel: true})
		_ = stream.CloseRequest()
	}()

	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := renderEvent(cmd, *evt); err != nil {
			return err
		}
	}
	_ = stream.CloseRequest()
	return stream.CloseResponse()
}

func renderEvent(cmd *cobra.Command, evt agent.Event) error {
	out := cmd.OutOrStdout()
	switch evt.Type {
	case agent.EventStatus:
		fmt.Fprintf(out, "[%s] %s\n", evt.Step, evt.Message)
	case agent.EventThinking:
		fmt.Fprintln(out, evt.Content)
	case agent.EventTool:
		if evt.ToolResult == "" {
			fmt.Fprintf(out, "[tool %s] %s\n", evt.ToolName, string(evt.ToolInput))
		} else {
			fmt.Fprintf(out, "[tool %s] %s\n", evt.ToolName, evt.ToolResult)
		}
	case agent.EventSolution:
		fmt.Fprintf(out, "[solution] session_id=%s\n", evt.SessionID)
		if evt.Solution != nil {
			if data, err := json.MarshalIndent(evt.Solution, "", "  "); err == nil {
				fmt.Fprintln(out, string(data))
			}
		}
	case agent.EventDiff:
		if evt.Diff != "" {
			fmt.Fprintf(out, "[diff]\n%s\n", evt.Diff)
		}
	case agent.EventResult:
		fmt.Fprintf(out, "[result] branch=%s\n", evt.Branch)
		fmt.Fprintf(out, "Branch URL: %s\n", evt.BranchURL)
		fmt.Fprintf(out, "Open a PR: %s\n", evt.PRURL)
	case agent.EventDone:
		fmt.Fprintln(out, "[done]")
	case agent.EventError:
		return fmt.Errorf("daemon error: %s", evt.Message)
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
