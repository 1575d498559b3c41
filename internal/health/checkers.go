package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/earshot-ai/earshot/internal/pipeline"
)

// PipelineChecker reports ready once the controller has left the idle state,
// i.e. the capture device is open and the wake-word loop is running.
func PipelineChecker(ctrl *pipeline.Controller) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(_ context.Context) error {
			if ctrl.State() == pipeline.StateIdle {
				return fmt.Errorf("pipeline not running")
			}
			return nil
		},
	}
}

// EndpointChecker probes an HTTP endpoint (such as a local whisper or coqui
// server) and reports healthy on any response below 500.
func EndpointChecker(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("endpoint returned %d", resp.StatusCode)
			}
			return nil
		},
	}
}
