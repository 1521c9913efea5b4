// shdc-hub runs an SHDC v1.0 hub: it answers discovery and join requests
// from sensors on a closed network, decrypts their EVENT_REPORTs, and
// drives periodic session- and broadcast-key rotation.
//
// Usage:
//
//	shdc-hub [options]
//
// Options:
//
//	-listen            UDP listen address (default: :56700)
//	-multicast-iface   network interface to join the discovery multicast group on
//	-broadcast-addr    address BROADCAST_COMMAND is sent to (empty = fan out to known sensors)
//	-capabilities      capability string advertised in HUB_DISCOVERY_RESP
//	-broadcast-rotation   broadcast key rotation interval (default: 15m)
//	-session-rotation     session key rotation interval (default: 24h)
//	-config            path to a JSON config file
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"shdc/pkg/engine"
	"shdc/pkg/keystore"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/shdcconfig"
	"shdc/pkg/transport"
)

func main() {
	opts, err := shdcconfig.ParseHubFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	identity, err := keystore.LoadOrCreateIdentity(keystore.NewMemoryPersister())
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}
	ks := keystore.New(keystore.Config{Identity: identity})

	var iface *net.Interface
	if opts.MulticastInterface != "" {
		iface, err = net.InterfaceByName(opts.MulticastInterface)
		if err != nil {
			log.Fatalf("resolve multicast interface %s: %v", opts.MulticastInterface, err)
		}
	}
	tr, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr:         opts.ListenAddr,
		MulticastInterface: iface,
	})
	if err != nil {
		log.Fatalf("bind transport: %v", err)
	}
	defer tr.Close()

	var broadcastAddr net.Addr
	if opts.BroadcastAddr != "" {
		broadcastAddr, err = net.ResolveUDPAddr("udp4", opts.BroadcastAddr)
		if err != nil {
			log.Fatalf("resolve broadcast addr: %v", err)
		}
	}

	hub, err := engine.NewHub(engine.HubConfig{
		HubID:                     hubIDFromIdentity(identity.PublicKey),
		Keystore:                  ks,
		Transport:                 tr,
		BroadcastAddr:             broadcastAddr,
		Capabilities:              opts.Capabilities,
		BroadcastRotationInterval: opts.BroadcastRotationInterval,
		SessionRotationInterval:   opts.SessionRotationInterval,
		Handlers: engine.Handlers{
			OnJoined: func(info engine.SensorInfo) {
				fp := shdccrypto.Fingerprint(info.DeviceID, info.PublicKey, "sensor")
				log.Printf("sensor joined: device_id=%d fingerprint=%x", info.DeviceID, fp[:8])
			},
			OnLeft: func(deviceID engine.DeviceID) {
				log.Printf("sensor reset to unknown: device_id=%d", deviceID)
			},
			OnEvent: func(deviceID engine.DeviceID, eventType byte, data []byte) {
				log.Printf("event: device_id=%d type=0x%02x data=%q", deviceID, eventType, data)
			},
			OnError: func(kind engine.ErrorKind, context string) {
				log.Printf("error: kind=%s %s", kind, context)
			},
		},
	})
	if err != nil {
		log.Fatalf("create hub: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := hub.Start(ctx); err != nil {
		log.Fatalf("start hub: %v", err)
	}
	fmt.Printf("shdc-hub listening on %s (capabilities=%q)\n", tr.LocalAddr(), opts.Capabilities)

	<-ctx.Done()
	log.Println("shutting down...")
	hub.Stop()
}

// hubIDFromIdentity derives a stable, non-zero DeviceId from the hub's
// identity public key, so restarts with the same persisted identity keep
// the same id.
func hubIDFromIdentity(pub [32]byte) engine.DeviceID {
	id := binary.BigEndian.Uint32(pub[:4])
	if id == 0 {
		id = 1
	}
	return id
}
