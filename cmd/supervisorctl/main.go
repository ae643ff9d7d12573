// supervisorctl is the control CLI for the supervisor daemon. It talks to a
// running supervisord instance over the HTTP control API in pkg/api.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiAddr string
	client  = &http.Client{Timeout: 10 * time.Second}
)

// serviceStatus mirrors api.ServiceStatus without importing the server
// package, keeping the CLI's dependency surface to the HTTP contract alone.
type serviceStatus struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	State        string `json:"state"`
	TargetState  string `json:"target_state"`
	RequiredBy   int    `json:"required_by"`
	StopReason   string `json:"stop_reason,omitempty"`
	StartFailed  bool   `json:"start_failed"`
	StartSkipped bool   `json:"start_skipped"`
	PID          int    `json:"pid,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func main() {
	root := &cobra.Command{
		Use:   "supervisorctl",
		Short: "Control CLI for the supervisor service manager",
	}
	root.PersistentFlags().StringVarP(&apiAddr, "addr", "a", "http://127.0.0.1:9100", "control API base URL")

	root.AddCommand(
		listCmd(),
		statusCmd(),
		startCmd(),
		stopCmd(),
		restartCmd(),
		unpinCmd(),
		shutdownCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all loaded services",
		RunE: func(cmd *cobra.Command, args []string) error {
			var services []serviceStatus
			if err := doGET("/api/v1/services", &services); err != nil {
				return err
			}
			for _, s := range services {
				fmt.Printf("[%s] %s%s\n", s.State, s.Name, formatSuffix(s))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Show detailed service status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s serviceStatus
			if err := doGET("/api/v1/services/"+args[0], &s); err != nil {
				return err
			}
			fmt.Printf("Service: %s\n", s.Name)
			fmt.Printf("  State:   %s\n", s.State)
			fmt.Printf("  Target:  %s\n", s.TargetState)
			fmt.Printf("  Type:    %s\n", s.Type)
			fmt.Printf("  Req'd by: %d\n", s.RequiredBy)
			if s.PID > 0 {
				fmt.Printf("  PID:     %d\n", s.PID)
			}
			if s.StartFailed {
				fmt.Printf("  Start failed: yes\n")
			}
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <service>",
		Short: "Start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s serviceStatus
			if err := doPOST("/api/v1/services/"+args[0]+"/start", &s); err != nil {
				return err
			}
			fmt.Printf("Service '%s' start requested (state: %s).\n", s.Name, s.State)
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s serviceStatus
			if err := doPOST("/api/v1/services/"+args[0]+"/stop", &s); err != nil {
				return err
			}
			fmt.Printf("Service '%s' stop requested (state: %s).\n", s.Name, s.State)
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <service>",
		Short: "Restart a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s serviceStatus
			if err := doPOST("/api/v1/services/"+args[0]+"/restart", &s); err != nil {
				return err
			}
			fmt.Printf("Service '%s' restarted (state: %s).\n", s.Name, s.State)
			return nil
		},
	}
}

func unpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <service>",
		Short: "Remove pin-start/pin-stop flags from a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s serviceStatus
			if err := doPOST("/api/v1/services/"+args[0]+"/unpin", &s); err != nil {
				return err
			}
			fmt.Printf("Service '%s' unpinned (state: %s).\n", s.Name, s.State)
			return nil
		},
	}
}

func shutdownCmd() *cobra.Command {
	var shutType string
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Initiate supervisor shutdown (halt|poweroff|reboot)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"type": shutType})
			if err != nil {
				return err
			}
			resp, err := client.Post(apiAddr+"/api/v1/shutdown", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()
			if err := decodeResponse(resp, nil); err != nil {
				return err
			}
			fmt.Printf("Shutdown (%s) initiated.\n", shutType)
			return nil
		},
	}
	cmd.Flags().StringVar(&shutType, "type", "poweroff", "shutdown type: halt, poweroff, or reboot")
	return cmd
}

func formatSuffix(s serviceStatus) string {
	if s.PID > 0 {
		return fmt.Sprintf(" (pid: %d)", s.PID)
	}
	return ""
}

func doGET(path string, out interface{}) error {
	resp, err := client.Get(apiAddr + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func doPOST(path string, out interface{}) error {
	resp, err := client.Post(apiAddr+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
