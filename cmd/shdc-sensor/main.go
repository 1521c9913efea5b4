// shdc-sensor runs an SHDC v1.0 sensor device: it discovers a hub (or joins
// one directly, if -hub-addr is given), joins it, and reports events sent
// on stdin as EVENT_REPORTs.
//
// Usage:
//
//	shdc-sensor [options]
//
// Options:
//
//	-listen            UDP listen address (default: :0, ephemeral)
//	-discovery-addr    address HUB_DISCOVERY_REQ is sent to
//	-hub-addr          hub address to Join directly, skipping Discover
//	-device-info       free-text device description
//	-discover-timeout  Discover deadline (default: 5m)
//	-join-timeout      Join deadline (default: 30s)
//	-config            path to a JSON config file
package main

import (
	"bufio"
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"shdc/pkg/engine"
	"shdc/pkg/keystore"
	"shdc/pkg/shdcconfig"
	"shdc/pkg/transport"
)

func main() {
	opts, err := shdcconfig.ParseSensorFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	identity, err := keystore.LoadOrCreateIdentity(keystore.NewMemoryPersister())
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}
	ks := keystore.New(keystore.Config{Identity: identity})

	discoveryAddr, err := net.ResolveUDPAddr("udp4", opts.DiscoveryAddr)
	if err != nil {
		log.Fatalf("resolve discovery addr: %v", err)
	}
	tr, err := transport.NewUDP(transport.UDPConfig{ListenAddr: opts.ListenAddr})
	if err != nil {
		log.Fatalf("bind transport: %v", err)
	}
	defer tr.Close()

	sensor, err := engine.NewSensor(engine.SensorConfig{
		Keystore:      ks,
		Transport:     tr,
		DiscoveryAddr: discoveryAddr,
		DeviceInfo:    opts.DeviceInfo,
		Handlers: engine.Handlers{
			OnJoined: func(info engine.SensorInfo) {
				log.Printf("joined hub: assigned device_id=%d", info.DeviceID)
			},
			OnCommand: func(commandType byte, commandData []byte) {
				log.Printf("command received: type=0x%02x data=%q", commandType, commandData)
			},
			OnError: func(kind engine.ErrorKind, context string) {
				log.Printf("error: kind=%s %s", kind, context)
			},
		},
	})
	if err != nil {
		log.Fatalf("create sensor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sensor.Start(ctx)
	defer sensor.Stop()

	if err := joinHub(ctx, sensor, opts); err != nil {
		log.Fatalf("join hub: %v", err)
	}
	log.Printf("active: device_id=%d", sensor.DeviceID())

	go readEventsFromStdin(ctx, sensor)

	<-ctx.Done()
	log.Println("shutting down...")
}

// joinHub either dials opts.HubAddr directly (skipping Discover) or runs
// Discover followed by Join against whatever hub answers first.
func joinHub(ctx context.Context, sensor *engine.Sensor, opts shdcconfig.SensorOptions) error {
	var hubAddr net.Addr
	if opts.HubAddr != "" {
		addr, err := net.ResolveUDPAddr("udp4", opts.HubAddr)
		if err != nil {
			return err
		}
		hubAddr = addr
	} else {
		if err := sensor.Discover(ctx, opts.DiscoverTimeout); err != nil {
			return err
		}
	}
	return sensor.Join(ctx, hubAddr, opts.JoinTimeout)
}

// readEventsFromStdin sends one EVENT_REPORT per input line of the form
// "<event_type> <data>", where event_type is decimal or 0x-prefixed hex.
// This is a manual test harness, not a feature spec.md names; a real sensor
// would call SendEvent from its own sampling loop instead of stdin.
func readEventsFromStdin(ctx context.Context, sensor *engine.Sensor) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		eventType, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), hexOrDecBase(parts[0]), 8)
		if err != nil {
			log.Printf("skipping malformed line %q: %v", line, err)
			continue
		}
		var data []byte
		if len(parts) == 2 {
			data = []byte(parts[1])
		}
		if err := sensor.SendEvent(ctx, byte(eventType), data); err != nil {
			log.Printf("send event: %v", err)
		}
	}
}

func hexOrDecBase(s string) int {
	if strings.HasPrefix(s, "0x") {
		return 16
	}
	return 10
}
