// cmd/aqnode: the environmental sensor node daemon. Wires the sensor
// adapters, uplink gateway, pending queue and measurement loop together,
// drives the loop on a fixed tick and serves operator commands on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/envsense/aqnode/pkg/command"
	"github.com/envsense/aqnode/pkg/config"
	"github.com/envsense/aqnode/pkg/loop"
	"github.com/envsense/aqnode/pkg/platform"
	"github.com/envsense/aqnode/pkg/queue"
	"github.com/envsense/aqnode/pkg/sensor"
	"github.com/envsense/aqnode/pkg/uplink"
)

func main() {
	cfgPath := flag.String("config", "aqnode.yaml", "config file path")
	port := flag.String("port", "", "serial port override for the particulate sensor")
	broker := flag.String("broker", "", "MQTT broker override, e.g. tcp://host:1883")
	mock := flag.Bool("mock", false, "use simulated sensor devices")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *port != "" {
		cfg.Particulate.Port = *port
	}
	if *broker != "" {
		cfg.Uplink.Broker = *broker
	}
	if *mock {
		cfg.Mock.Devices = true
	}

	clock := platform.Wall{}

	// Sensor devices. Temp/RH and VOC hardware drivers are wire-level
	// collaborators outside this module; the simulated devices stand in
	// until one is wired up.
	var frames sensor.FrameSource
	if cfg.Mock.Devices {
		frames = &sensor.MockFrames{
			Frame:    sensor.PMFrame{PM1p0: cfg.Mock.PM1p0, PM2p5: cfg.Mock.PM2p5, PM10: cfg.Mock.PM10},
			Interval: cfg.Mock.FrameInterval,
		}
	} else {
		frames = sensor.NewSerialFrames(cfg.Particulate.Port, cfg.Particulate.BaudRate, 0)
	}
	tempDev := &sensor.MockTempRH{TempC: cfg.Mock.TempC, RH: cfg.Mock.RH}
	vocDev := &sensor.MockVOC{TVOC: cfg.Mock.TVOC, ECO2: cfg.Mock.ECO2}

	adapters := []sensor.Adapter{
		sensor.NewParticulate(frames, platform.NopRail{}, clock, cfg.Particulate.Warmup, cfg.Particulate.MinFrames),
		sensor.NewTempRH(tempDev, platform.NopRail{}, clock),
		sensor.NewVOC(vocDev, platform.NopRail{}, clock, cfg.VOC.Baseline, cfg.VOC.SampleEvery),
	}

	var gw uplink.Gateway
	if cfg.Uplink.Broker != "" {
		m, err := uplink.NewMQTT(uplink.MQTTConfig{
			Broker:      cfg.Uplink.Broker,
			ClientID:    cfg.Uplink.ClientID,
			Username:    cfg.Uplink.Username,
			Password:    cfg.Uplink.Password,
			Topic:       cfg.Uplink.Topic,
			QoS:         byte(cfg.Uplink.QoS),
			MaxPayload:  cfg.Uplink.MaxPayload,
			SendTimeout: cfg.Uplink.SendTimeout,
		})
		if err != nil {
			log.Fatalf("uplink connect failed: %v", err)
		}
		defer m.Close()
		gw = m
	} else {
		log.Printf("no uplink broker configured, using loopback gateway")
		mg := uplink.NewMock()
		mg.MaxPayload = cfg.Uplink.MaxPayload
		gw = mg
	}

	q := queue.New(cfg.Queue.Capacity, nil, clock)

	var rec loop.Recorder = loop.NoopRecorder{}
	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		rec = loop.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	l := loop.New(adapters, gw, q, clock, loop.Settings{
		Interval:          cfg.Node.Interval,
		MaxPowerWait:      cfg.Node.MaxPowerWait,
		SampleTimeout:     cfg.Node.SampleTimeout,
		PowerSave:         cfg.Node.PowerSave,
		EnableParticulate: cfg.Particulate.Enabled,
		EnableTempRH:      cfg.TempRH.Enabled,
		EnableVOC:         cfg.VOC.Enabled,
	}, rec)
	l.SetDebugMask(cfg.Node.DebugMask)
	if err := l.Begin(); err != nil {
		log.Fatalf("loop begin failed: %v", err)
	}
	if cfg.Node.AutoRun {
		l.RequestActive(true)
	}

	// Operator console on stdin.
	console := platform.Stdout{}
	disp := command.NewDispatcher(l)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			res := disp.Execute(line)
			console.Println(res.Text)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Node.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("shutting down")
			return
		case <-ticker.C:
			l.Poll()
		}
	}
}
