// firehose-tail subscribes to a PDS firehose and prints each frame.
//
// Usage:
//
//	./firehose-tail --url pds.example.com --port 443
//	./firehose-tail --url localhost --port 3000 --insecure --cursor 0
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	"github.com/openherald/herald-pds/internal/events"
)

func main() {
	cmd := &cli.Command{
		Name:  "firehose-tail",
		Usage: "Tail the subscribeRepos firehose of a PDS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Usage:    "Host of the PDS to subscribe to",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "port",
				Usage:    "Port of the PDS to subscribe to",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "cursor",
				Usage: "Replay buffered events after this sequence number (-1 for live only)",
				Value: -1,
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "Use ws:// instead of wss://",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return tail(ctx, c.String("url"), c.Int("port"), c.Int("cursor"), c.Bool("insecure"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func tail(ctx context.Context, host string, port, cursor int, insecure bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheme := "wss"
	if insecure {
		scheme = "ws"
	}
	url := fmt.Sprintf("%s://%s:%d/xrpc/com.atproto.sync.subscribeRepos", scheme, host, port)
	if cursor >= 0 {
		url += "?cursor=" + strconv.Itoa(cursor)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", url)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		kind, body, err := events.DecodeFrame(frame)
		if err != nil {
			log.Printf("skipping malformed frame: %v", err)
			continue
		}
		pretty, err := json.Marshal(body)
		if err != nil {
			log.Printf("skipping unprintable frame: %v", err)
			continue
		}
		fmt.Printf("%s %s\n", kind, pretty)
	}
}
