package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/crowdmeter/internal/meter"
)

type EmptyArgs struct{}

type StartArgs struct {
	Wait bool `json:"wait,omitempty" jsonschema:"block until the recording finishes and return the score"`
}

type SwitchDeviceArgs struct {
	DeviceID string `json:"device_id" jsonschema:"device id or label from list_devices"`
}

// How often a waiting start_measurement polls the runner
const waitPoll = 50 * time.Millisecond

func (s *Server) handleListDevices(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	devices := s.runner.Devices()
	selected := s.runner.State().DeviceID

	content := []sdk.Content{
		&sdk.TextContent{Text: fmt.Sprintf("Input devices (%d):", len(devices))},
	}
	for _, d := range devices {
		marker := " "
		if d.ID == selected {
			marker = "*"
		}
		content = append(content, &sdk.TextContent{Text: fmt.Sprintf("%s %s", marker, d)})
	}
	if len(devices) == 0 {
		content = append(content, &sdk.TextContent{Text: "No devices enumerated yet; start_measurement opens the default input"})
	}

	return &sdk.CallToolResult{Content: content}, nil, nil
}

func (s *Server) handleMeterState(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	return stateResult(s.runner.State()), nil, nil
}

func (s *Server) handleStartMeasurement(ctx context.Context, req *sdk.CallToolRequest, args StartArgs) (*sdk.CallToolResult, any, error) {
	err := s.runner.Do(ctx, func(ctx context.Context, m *meter.Machine) error {
		switch m.Snapshot().Phase {
		case meter.PhaseIdle, meter.PhaseError, meter.PhasePermissionDenied:
			if err := m.Init(ctx); err != nil {
				return err
			}
		}
		return m.Start(ctx)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start measurement: %w", err)
	}

	if !args.Wait {
		return stateResult(s.runner.State()), nil, nil
	}

	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()
	for {
		st := s.runner.State()
		switch st.Phase {
		case meter.PhaseResults, meter.PhaseError, meter.PhasePermissionDenied, meter.PhaseIdle:
			return stateResult(st), nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) handleSubmitMeasurement(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	if err := s.runner.Submit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to submit measurement: %w", err)
	}
	return stateResult(s.runner.State()), nil, nil
}

func (s *Server) handleAbortMeasurement(ctx context.Context, req *sdk.CallToolRequest, args EmptyArgs) (*sdk.CallToolResult, any, error) {
	if err := s.runner.Abort(ctx); err != nil {
		return nil, nil, err
	}
	return stateResult(s.runner.State()), nil, nil
}

func (s *Server) handleSwitchDevice(ctx context.Context, req *sdk.CallToolRequest, args SwitchDeviceArgs) (*sdk.CallToolResult, any, error) {
	if args.DeviceID == "" {
		return nil, nil, fmt.Errorf("device_id is required")
	}
	if err := s.runner.SwitchDevice(ctx, args.DeviceID); err != nil {
		return nil, nil, fmt.Errorf("failed to switch device: %w", err)
	}
	return stateResult(s.runner.State()), nil, nil
}

func stateResult(st meter.State) *sdk.CallToolResult {
	var text string
	switch st.Phase {
	case meter.PhaseMonitoring:
		text = fmt.Sprintf("Monitoring %s, level %.1f%%", deviceName(st.DeviceID), st.Level*100)
	case meter.PhaseCountdown:
		text = fmt.Sprintf("Countdown: %d s until recording", st.SecondsLeft)
	case meter.PhaseRecording:
		text = fmt.Sprintf("Recording: %.1f s elapsed, energy %.3f, peak %.1f%%", st.Elapsed, st.Energy, st.Peak*100)
	case meter.PhaseResults:
		text = fmt.Sprintf("Crowd score %d/10 (energy %.3f, peak %.1f%%)", st.Score, st.Energy, st.Peak*100)
		if st.SubmitError != "" {
			text += "; last submit failed: " + st.SubmitError
		}
	case meter.PhasePermissionDenied, meter.PhaseError:
		text = fmt.Sprintf("%s: %s", st.Phase, st.Reason)
	default:
		text = st.Phase.String()
	}

	return &sdk.CallToolResult{
		Content: []sdk.Content{
			&sdk.TextContent{Text: fmt.Sprintf("Phase: %s", st.Phase)},
			&sdk.TextContent{Text: text},
		},
	}
}

func deviceName(id string) string {
	if id == "" {
		return "default input"
	}
	return id
}
