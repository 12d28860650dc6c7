// Command xrealctl is a small demonstration binary for the glasses client:
// it opens a session, prints state transitions and tracking samples to
// stdout, and can issue a single one-shot RPC before exiting. Shaped after
// cmd/console_mqtt and cmd/register_debug: load config, wire
// up subsystems, block on signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	xreal "github.com/xreal-go/glasses"
	"github.com/xreal-go/glasses/internal/config"
	"github.com/xreal-go/glasses/internal/headtracking"
	"github.com/xreal-go/glasses/internal/version"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a KEY=VALUE config file (defaults used if omitted)")
		oneShot    = flag.String("rpc", "", "issue one RPC and exit: get_id|get_software_version|get_dsp_version|get_config_raw|set_brightness=N|set_scene_mode=N|set_display_input_mode=N|set_dimmer=N|zero_view|recalibrate")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("xrealctl %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("xrealctl: failed to load config: %v", err)
		}
		cfg = loaded
	}

	client := xreal.New(
		xreal.WithHost(cfg.Host),
		xreal.WithPorts(cfg.ControlPort, cfg.StreamPort),
		xreal.WithStartupTimeout(time.Duration(cfg.StartupTimeoutMS)*time.Millisecond),
		xreal.WithControlTimeout(time.Duration(cfg.ConnectTimeoutMS)*time.Millisecond),
	)
	if cfg.PoseMode == "smooth" {
		client.SetPoseDataMode(xreal.PoseDataSmooth)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("xrealctl: connecting to %s (control=%d stream=%d)", cfg.Host, cfg.ControlPort, cfg.StreamPort)
	result, err := client.Start(ctx)
	if err != nil {
		log.Fatalf("xrealctl: start failed: %v", err)
	}
	log.Printf("xrealctl: streaming from FSN=%s glasses_version=%d", result.FSN, result.Version)

	if *oneShot != "" {
		runOneShot(ctx, client, *oneShot)
		_ = client.Stop()
		return
	}

	if cfg.MQTTBroker != "" {
		bridge, err := startMQTTBridge(client, cfg)
		if err != nil {
			log.Fatalf("xrealctl: mqtt bridge: %v", err)
		}
		defer bridge.stop()
	}
	if cfg.WebSocketBridge != "" {
		bridge := startWSBridge(client, cfg.WebSocketBridge)
		defer bridge.stop()
	}

	stopPrinting := startConsolePrinter(client)
	defer stopPrinting()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("xrealctl: shutting down")
	if err := client.Stop(); err != nil {
		log.Printf("xrealctl: stop error: %v", err)
	}
}

func runOneShot(ctx context.Context, client *xreal.Client, rpc string) {
	name, arg := splitRPC(rpc)
	switch name {
	case "get_id":
		v, err := client.GetID(ctx)
		report("get_id", v, err)
	case "get_software_version":
		v, err := client.GetSoftwareVersion(ctx)
		report("get_software_version", v, err)
	case "get_dsp_version":
		v, err := client.GetDSPVersion(ctx)
		report("get_dsp_version", v, err)
	case "get_config_raw":
		v, err := client.GetConfigRaw(ctx)
		report("get_config_raw", v, err)
	case "set_brightness":
		n := mustAtoi(arg)
		err := client.SetBrightness(ctx, n)
		report("set_brightness", "ok", err)
	case "set_scene_mode":
		n := mustAtoi(arg)
		err := client.SetSceneMode(ctx, int64(n))
		report("set_scene_mode", "ok", err)
	case "set_display_input_mode":
		n := mustAtoi(arg)
		err := client.SetDisplayInputMode(ctx, int64(n))
		report("set_display_input_mode", "ok", err)
	case "set_dimmer":
		n := mustAtoi(arg)
		err := client.SetDimmer(ctx, int64(n))
		report("set_dimmer", "ok", err)
	case "zero_view":
		report("zero_view", "ok", client.ZeroView())
	case "recalibrate":
		report("recalibrate", "ok", client.Recalibrate())
	default:
		log.Fatalf("xrealctl: unknown rpc %q", name)
	}
}

func splitRPC(rpc string) (name, arg string) {
	name, arg, _ = strings.Cut(rpc, "=")
	return name, arg
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("xrealctl: invalid integer argument %q", s)
	}
	return n
}

func report(op string, v any, err error) {
	if err != nil {
		log.Fatalf("xrealctl: %s failed: %v", op, err)
	}
	fmt.Printf("%s: %v\n", op, v)
}

// startConsolePrinter subscribes to the Client's session-state,
// bias-state and tracking broadcasters and prints readings to stdout in console_mqtt.go's
// bracketed-prefix style. It returns a function that unsubscribes
// everything.
func startConsolePrinter(client *xreal.Client) func() {
	sessionID, sessionCh := client.SessionStates().Subscribe(8)
	biasID, biasCh := client.BiasStates().Subscribe(8)
	poseID, poseCh := client.Tracking().Subscribe(32)

	go func() {
		for s := range sessionCh {
			fmt.Printf("[STATE] phase=%s\n", s.Phase)
		}
	}()
	go func() {
		for b := range biasCh {
			fmt.Printf("[BIAS ] phase=%s fsn=%s version=%d\n", b.Phase, b.FSN, b.Version)
		}
	}()
	go func() {
		for p := range poseCh {
			printPose(p)
		}
	}()

	return func() {
		client.SessionStates().Unsubscribe(sessionID)
		client.BiasStates().Unsubscribe(biasID)
		client.Tracking().Unsubscribe(poseID)
	}
}

func printPose(p headtracking.TrackingSample) {
	fmt.Printf(
		"[POSE]  PITCH=%6.2f  YAW=%6.2f  ROLL=%6.2f\n",
		p.Relative.X, p.Relative.Y, p.Relative.Z,
	)
}
