// Command lsnpd runs one LSNP node: it joins the LAN over UDP broadcast,
// tracks peers, and exposes a line-oriented command surface over stdin.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/Solenad/mp-csnetwk-group4/internal/events"
	"github.com/Solenad/mp-csnetwk-group4/internal/presence"
	"github.com/Solenad/mp-csnetwk-group4/internal/token"
	"github.com/Solenad/mp-csnetwk-group4/internal/transport"
)

func main() {
	displayName := flag.String("name", defaultDisplayName(), "display name advertised in PROFILE frames")
	avatarPath := flag.String("avatar", "", "path to an avatar image (PNG/JPEG/GIF, max 20KB) to advertise")
	revokedPath := flag.String("revoked-tokens", "revoked_tokens.json", "path to the persistent revoked-token store")
	destDir := flag.String("recv-dir", "received", "directory incoming file transfers are written to")
	verbose := flag.Bool("verbose", false, "print every decoded frame field instead of a terse summary")
	flag.Parse()

	listener, err := transport.Listen()
	if err != nil {
		log.Printf("[server] %v", err)
		os.Exit(1)
	}
	defer listener.Close()

	broadcaster, err := transport.NewBroadcaster()
	if err != nil {
		log.Fatalf("[server] %v", err)
	}

	store, err := token.Open(*revokedPath)
	if err != nil {
		log.Fatalf("[token] %v", err)
	}

	node := NewNode(*displayName, listener, broadcaster, store, *destDir)
	node.SetVerbose(*verbose)
	if *avatarPath != "" {
		if err := node.SetAvatar(*avatarPath); err != nil {
			log.Printf("[server] avatar: %v", err)
		}
	}
	if *verbose {
		node.Sink = events.VerboseSink{Print: func(s string) { log.Println(s) }}
	} else {
		node.Sink = events.TerseSink{Print: func(s string) { log.Println(s) }}
	}

	log.Printf("[server] node %s listening on %d", node.UserID, node.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	dispatcher := NewDispatcher(node)
	go listener.Serve()
	go func() {
		for dg := range listener.In {
			go dispatcher.HandleDatagram(dg)
		}
	}()

	go presence.Run(ctx, node)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range node.Games.SweepIdle() {
					log.Printf("[game] %s timed out", id)
				}
			}
		}
	}()

	runREPL(ctx, node)
	log.Println("[server] exited")
}

func defaultDisplayName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "lsnp-node"
}
