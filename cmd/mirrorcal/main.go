package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/blueprint"
	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/executor"
	"github.com/lumenfield/mirrorcal/internal/calib/script"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
	"github.com/lumenfield/mirrorcal/internal/config"
	"github.com/lumenfield/mirrorcal/internal/debug"
	"github.com/lumenfield/mirrorcal/internal/hw/camera"
	"github.com/lumenfield/mirrorcal/internal/hw/gpio"
	"github.com/lumenfield/mirrorcal/internal/hw/motor"
	"github.com/lumenfield/mirrorcal/internal/profile"
	"github.com/lumenfield/mirrorcal/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web monitor on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "example.yaml"), "path to config file")
	profileDB := flag.String("profile-db", "mirrorcal.db", "path to the profile database")
	profileName := flag.String("name", "", "name for the saved profile (default: timestamp)")
	recalibrate := flag.String("recalibrate", "", "recalibrate a single tile (\"row-col\") against the latest profile")
	baseProfile := flag.String("profile", "", "profile id to recalibrate against (default: latest)")
	listProfiles := flag.Bool("list-profiles", false, "list saved profiles and exit")
	stepMode := flag.Bool("step", false, "force step mode: block at every checkpoint until advanced")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *stepMode {
		cfg.Mode = config.ModeStep
	}

	debug.Init(cfg.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.DebugLevel)
	debug.Grid(cfg.Grid.Rows, cfg.Grid.Cols, len(cfg.CalibratableTiles()))

	store, err := profile.Open(*profileDB)
	if err != nil {
		log.Fatalf("open profile store failed: %v", err)
	}
	defer store.Close()

	if *listProfiles {
		printProfiles(store)
		return
	}

	motors, closeMotors, err := newMotorAdapter(cfg)
	if err != nil {
		log.Fatalf("init motors failed: %v", err)
	}
	defer closeMotors()
	debug.Value("Motor transport", cfg.Motors.Type)

	cam := newCameraAdapter(cfg)
	debug.Value("Camera type", cfg.Camera.Type)

	engine := blueprint.NewEngine(cfg)
	s, err := buildScript(cfg, engine, store, *recalibrate, *baseProfile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var broadcaster *web.Broadcaster
	cb := executor.Callbacks{}
	if port := webPort.port(); port > 0 {
		broadcaster = web.NewBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		cb = webCallbacks(broadcaster)
	}

	exec := executor.New(cfg, executor.Adapters{Motors: motors, Camera: cam}, engine, cb)

	if broadcaster != nil {
		srv := web.NewServer(fmt.Sprintf(":%d", webPort.port()), broadcaster, exec)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("web server: %v", err)
			}
		}()
	}

	// Console decision prompt; the web UI can answer too, first one wins.
	go promptDecisions(ctx, exec)

	final, runErr := exec.Run(ctx, s)
	debug.Summary("Calibration finished: " + string(final.Phase))
	if runErr != nil && !errors.Is(runErr, executor.ErrAborted) {
		log.Fatalf("run failed: %v", runErr)
	}

	if final.Phase == state.PhaseCompleted && final.Summary != nil {
		name := *profileName
		if name == "" {
			name = time.Now().Format("2006-01-02 15:04:05")
		}
		p, err := store.Save(name, final.Summary)
		if err != nil {
			log.Fatalf("save profile failed: %v", err)
		}
		debug.Info("saved profile %s (%s)", p.ID, p.Name)
		fmt.Printf("profile saved: %s\n", p.ID)
	}

	if broadcaster != nil && runErr == nil {
		// Keep the monitor up for inspection until interrupted.
		<-ctx.Done()
	}
}

// buildScript selects the full-grid script or a single-tile recalibration
// against a stored profile.
func buildScript(cfg *config.Config, engine *blueprint.Engine, store *profile.Store, recalibrate, baseID string) (*script.Script, error) {
	if recalibrate == "" {
		return script.Calibration(cfg, engine), nil
	}
	tile, ok := cfg.TileForKey(recalibrate)
	if !ok {
		return nil, fmt.Errorf("recalibrate: %q is not a tile inside the %dx%d grid",
			recalibrate, cfg.Grid.Rows, cfg.Grid.Cols)
	}
	var (
		base *profile.Profile
		err  error
	)
	if baseID != "" {
		base, err = store.Load(baseID)
	} else {
		base, err = store.LoadLatest()
	}
	if err != nil {
		return nil, fmt.Errorf("load base profile: %w", err)
	}
	debug.Info("recalibrating tile %s against profile %s (%s)", tile.Key, base.ID, base.Name)
	return script.SingleTileRecalibration(cfg, engine, tile, base.Summary), nil
}

// newMotorAdapter selects the motor transport from configuration.
func newMotorAdapter(cfg *config.Config) (motor.Adapter, func(), error) {
	switch cfg.Motors.Type {
	case "mock":
		return motor.NewFake(), func() {}, nil
	case "serial":
		client, err := motor.OpenSerial(cfg.Motors.SerialPort, cfg.Motors.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				log.Printf("closing serial port failed: %v", err)
			}
		}, nil
	case "gpio":
		driver, err := gpio.NewDriver(false)
		if err != nil {
			return nil, nil, err
		}
		axes := make(map[string]motor.AxisPins, len(cfg.Motors.GPIOAxes))
		for key, ax := range cfg.Motors.GPIOAxes {
			axes[key] = motor.AxisPins{
				StepPin:     ax.StepPin,
				DirPin:      ax.DirPin,
				EnablePin:   ax.EnablePin,
				TravelSteps: ax.TravelSteps,
				StepDelay:   time.Duration(ax.StepDelayUs) * time.Microsecond,
			}
		}
		rig := motor.NewGPIORig(driver, axes)
		return rig, func() {
			if err := driver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported motor type: %s", cfg.Motors.Type)
	}
}

// newCameraAdapter selects the vision source from configuration. The mock
// camera echoes the expected position so full runs complete on a desk.
func newCameraAdapter(cfg *config.Config) camera.Adapter {
	switch cfg.Camera.Type {
	case "http":
		return camera.NewHTTPClient(cfg.Camera.URL, camera.ROI{
			X:      cfg.ROI.X,
			Y:      cfg.ROI.Y,
			Width:  cfg.ROI.Width,
			Height: cfg.ROI.Height,
		})
	default:
		return &camera.Simulator{}
	}
}

// webCallbacks forwards run events to SSE clients.
func webCallbacks(b *web.Broadcaster) executor.Callbacks {
	return executor.Callbacks{
		OnState: func(st *state.State) {
			b.BroadcastEvent("state", st)
		},
		OnStep: func(s state.StepState) {
			b.BroadcastEvent("step", s)
		},
		OnDecision: func(p *executor.PendingDecision) {
			b.BroadcastEvent("decision", p)
		},
		OnLog: func(l command.Log) {
			b.BroadcastLog(l.Level, l.Message)
		},
	}
}

// promptDecisions answers pending decisions from stdin: when the run
// blocks, type one of the offered options and press enter.
func promptDecisions(ctx context.Context, exec *executor.Executor) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p := exec.Pending()
		if p == nil {
			fmt.Println("no decision pending")
			continue
		}
		if err := exec.SubmitDecision(p.ID, command.DecisionOption(line)); err != nil {
			fmt.Printf("decision rejected: %v (options: %v)\n", err, p.Options)
		}
	}
}

func printProfiles(store *profile.Store) {
	profiles, err := store.List()
	if err != nil {
		log.Fatalf("list profiles failed: %v", err)
	}
	if len(profiles) == 0 {
		fmt.Println("no profiles saved")
		return
	}
	for _, p := range profiles {
		fmt.Printf("%s  %s  %s\n", p.ID, p.CreatedAt.Format(time.RFC3339), p.Name)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or
// -web 8080 for 8080, -web 8980 for 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
