package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/holoctl/internal/service"
	"github.com/spf13/cobra"
)

var (
	callAddr    string
	callTimeout time.Duration
	callRequest string
)

var callCmd = &cobra.Command{
	Use:   "call <action>",
	Short: "Send one request to a running control endpoint",
	Long: `Sends one JSON-line request to the control endpoint and prints the response.
The request body is given with --data as a JSON object; its "action" field is
set from the argument.`,
	Example: `  holoctl call status
  holoctl call RequestMeasurement --data '{"configuration":"{\"binning_factor\":16}"}'
  holoctl call RequestEvaluation --data '{"evaluation_type":"quick","resource_uris":["a.tiff"]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.ControlRequest{}
		if callRequest != "" {
			if err := json.Unmarshal([]byte(callRequest), &req); err != nil {
				return fmt.Errorf("parse --data: %w", err)
			}
		}
		req.Action = args[0]
		resp, err := sendControl(callAddr, req, callTimeout)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("%s: %s", req.Action, resp.Error)
		}
		return nil
	},
}

func init() {
	callCmd.Flags().StringVarP(&callAddr, "addr", "a", "127.0.0.1:4840", "control endpoint address")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "dial and response timeout")
	callCmd.Flags().StringVarP(&callRequest, "data", "d", "", "request fields as a JSON object")
}

func sendControl(addr string, req service.ControlRequest, timeout time.Duration) (service.ControlResponse, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return service.ControlResponse{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return service.ControlResponse{}, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return service.ControlResponse{}, fmt.Errorf("write request: %w", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return service.ControlResponse{}, fmt.Errorf("read response: %w", err)
	}
	var resp service.ControlResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return service.ControlResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
