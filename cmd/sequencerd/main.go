// command sequencerd runs an instrument configuration file and a
// sequence description against a camera, an IOTool controller, and a
// named-buffer registry, then reports the captured buffer names.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rpcscope.dev/buffer"
	"rpcscope.dev/camera"
	"rpcscope.dev/config"
	"rpcscope.dev/driver/iotool"
	"rpcscope.dev/sequencer"
)

var (
	configPath   = flag.String("config", "", "instrument configuration YAML file")
	sequencePath = flag.String("sequence", "", "sequence description JSON file")
	dryrun       = flag.Bool("n", false, "use an in-process simulated camera and IOTool device instead of real hardware")
	width        = flag.Int("width", 2048, "simulated sensor width, pixels (only with -n)")
	height       = flag.Int("height", 2048, "simulated sensor height, pixels (only with -n)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sequencerd: %v\n", err)
		os.Exit(1)
	}
}

// stepSpec is the on-disk shape of one requested exposure. Lamp names
// "TL" select the transmitted-light source; anything else names one or
// more fluorescence lamps from the configuration's Lamps map.
type stepSpec struct {
	ExposureMs   float64  `json:"exposure_ms"`
	Lamps        []string `json:"lamps"`
	TLIntensity  *int     `json:"tl_intensity,omitempty"`
	DelayAfterMs float64  `json:"delay_after_ms,omitempty"`
}

func run() error {
	if *configPath == "" {
		return fmt.Errorf("-config is required")
	}
	if *sequencePath == "" {
		return fmt.Errorf("-sequence is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	steps, err := loadSequence(*sequencePath)
	if err != nil {
		return err
	}

	cam, ctrl, err := openHardware(cfg)
	if err != nil {
		return err
	}

	runner, err := sequencer.NewSequence(cam, ctrl, cfg, nil)
	if err != nil {
		return err
	}
	for i, s := range steps {
		lamp, err := lampFromNames(s.Lamps)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := runner.AddStep(s.ExposureMs, lamp, s.TLIntensity, s.DelayAfterMs); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	names, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	for i, name := range names {
		fmt.Printf("%d: %s\n", i, name)
	}
	return nil
}

func loadSequence(path string) ([]stepSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	var steps []stepSpec
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse sequence: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("sequence %s describes no steps", path)
	}
	return steps, nil
}

func lampFromNames(names []string) (sequencer.Lamp, error) {
	if len(names) == 0 {
		return sequencer.Lamp{}, fmt.Errorf("step names no lamp")
	}
	if len(names) == 1 && names[0] == "TL" {
		return sequencer.TL(), nil
	}
	for _, n := range names {
		if n == "TL" {
			return sequencer.Lamp{}, fmt.Errorf("TL cannot be combined with fluorescence lamps")
		}
	}
	return sequencer.Fluorescence(names...), nil
}

// openHardware wires an in-process simulation when -n is given. No
// real camera driver binding exists in this build, so without -n it
// opens no device and returns an error.
func openHardware(cfg *config.Scope) (*camera.Camera, *iotool.Controller, error) {
	if *dryrun {
		sim := iotool.NewSimulator()
		ctrl, err := iotool.Open(sim.Opener())
		if err != nil {
			return nil, nil, fmt.Errorf("open simulated iotool: %w", err)
		}
		camSim := camera.NewSimulator(*width, *height)
		return camera.New(camSim, buffer.NewRegistry()), ctrl, nil
	}

	return nil, nil, fmt.Errorf("no camera driver binding is wired for this build; run with -n to use the simulated camera")
}
