// ABOUTME: Minimal fake agent for E2E testing. Registers over the wire protocol and logs forwarded payloads.
// ABOUTME: Usage: fake-agent [-addr 127.0.0.1:9999] [-name echo] [-type CORE]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/2389/coven-broker/internal/client"
	"github.com/2389/coven-broker/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9999", "broker address")
	name := flag.String("name", "echo", "agent name to register")
	agentType := flag.String("type", "CORE", "agent type")
	flag.Parse()

	if err := run(*addr, *name, *agentType); err != nil {
		log.Fatal(err)
	}
}

func run(addr, name, agentType string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := client.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(name, agentType); err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	fmt.Fprintf(os.Stderr, "registered as %s (%s)\n", name, agentType)

	// Message loop: answer broker heartbeats, log forwarded payloads.
	for ctx.Err() == nil {
		msgType, payload, err := c.Next()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("recv error: %w", err)
		}

		switch msgType {
		case protocol.TypeHeartbeat:
			if err := c.SendFrame(protocol.TypeHeartbeat, map[string]any{"ts": time.Now().Unix()}); err != nil {
				return fmt.Errorf("heartbeat reply: %w", err)
			}
		case protocol.TypeSend:
			log.Printf("received forwarded message: %v", payload)
		default:
			log.Printf("received %s frame: %v", msgType, payload)
		}
	}
	return nil
}
