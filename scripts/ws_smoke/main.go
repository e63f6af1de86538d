package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vovakirdan/sanctuary/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	api := flag.String("api", "http://localhost:8080", "relay HTTP address")
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	alias := flag.String("alias", "tester", "alias to announce with hello")
	topic := flag.String("topic", "smoke test", "topic of the sanctuary to create")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	created, err := createSanctuary(ctx, *api, *topic)
	if err != nil {
		return err
	}
	fmt.Printf("Created sanctuary %s\n", created.Sanctuary.ID)

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, v any) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeHello, proto.HelloData{
		SessionID: created.Sanctuary.ID,
		Alias:     *alias,
		HostToken: created.HostToken,
		Protocol:  proto.ProtocolVersion,
	}); err != nil {
		return err
	}

	messageID := uuid.NewString()
	sent := false
	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received frame: type=%s", frame.Type)
		if frame.Event != "" {
			fmt.Printf(" event=%s", frame.Event)
		}
		fmt.Println()

		switch frame.Type {
		case proto.OutboundTypeError:
			return fmt.Errorf("relay error %s: %s", frame.Error.Code, frame.Error.Msg)
		case proto.OutboundTypeWelcome:
			var welcome proto.WelcomeData
			if err := json.Unmarshal(frame.Data, &welcome); err != nil {
				return fmt.Errorf("unmarshal welcome: %w", err)
			}
			fmt.Printf("Welcome: participant=%s host=%t\n", welcome.ParticipantID, welcome.IsHost)
			if !sent {
				sent = true
				if err := send(proto.InboundTypeSendMessage, proto.MessageData{ID: messageID, Content: *text, Type: "text"}); err != nil {
					return err
				}
			}
		case proto.OutboundTypeEvent:
			if frame.Event != "new_message" {
				continue
			}
			var msg proto.MessageData
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				fmt.Printf("Raw data: %s\n", string(frame.Data))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("Message: id=%s alias=%s content=%q ts=%d\n", msg.ID, msg.SenderAlias, msg.Content, msg.TS)
			if msg.ID == messageID {
				return nil
			}
		}
	}
}

func createSanctuary(ctx context.Context, api, topic string) (proto.CreateSanctuaryResponse, error) {
	var out proto.CreateSanctuaryResponse
	body, err := json.Marshal(proto.CreateSanctuaryRequest{Topic: topic, Mode: "text"})
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+"/api/sanctuaries", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("create sanctuary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("create sanctuary: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode sanctuary: %w", err)
	}
	return out, nil
}
