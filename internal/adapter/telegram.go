package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaybus/relay/internal/delivery"
)

// telegramAdapter is a long-polling producer modeled on the teacher's
// agent.Run() lifecycle (Init -> run loop -> Cleanup), generalized from
// an OS-process agent to a manager-owned goroutine cancelled via
// context.Context rather than os/signal.
type telegramAdapter struct {
	botToken     string
	pollInterval time.Duration
}

func newTelegramAdapter(config map[string]interface{}) (adapterInstance, error) {
	token, _ := config["botToken"].(string)
	if token == "" {
		return nil, fmt.Errorf("telegram: botToken is required")
	}

	interval := 2 * time.Second
	if raw, ok := config["pollIntervalSeconds"]; ok {
		if n, ok := raw.(float64); ok && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	return &telegramAdapter{botToken: token, pollInterval: interval}, nil
}

// probe checks that a bot token is configured; a real deployment would
// call Telegram's getMe endpoint here.
func (t *telegramAdapter) probe() error {
	if t.botToken == "" {
		return fmt.Errorf("telegram: no bot token configured")
	}
	return nil
}

// start launches the long-polling loop as a goroutine, publishing each
// received update onto subject until ctx is cancelled.
func (t *telegramAdapter) start(ctx context.Context, pub publisher, subject string) error {
	go t.run(ctx, pub, subject)
	return nil
}

func (t *telegramAdapter) stop() error {
	return nil
}

// send is the outbound half of the duplex role: it pushes a payload
// published onto relay.adapter.telegram.send out to the configured chat.
// Wiring a real sendMessage call is outside this kernel's scope, same as
// poll below.
func (t *telegramAdapter) send(payload json.RawMessage) error {
	return nil
}

func (t *telegramAdapter) run(ctx context.Context, pub publisher, subject string) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update, err := t.poll(ctx)
			if err != nil || update == nil {
				continue
			}
			_, _ = pub.Publish(ctx, subject, update, delivery.PublishOptions{From: "relay.adapter.telegram"})
		}
	}
}

// poll is a stand-in for Telegram's getUpdates long-poll call; wiring a
// real HTTP client is outside this kernel's scope (SPEC_FULL.md scopes
// adapters' external API calls out as an implementation detail of each
// adapter, not the kernel).
func (t *telegramAdapter) poll(ctx context.Context) (json.RawMessage, error) {
	return nil, nil
}
