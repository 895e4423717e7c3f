package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pliu/courier/internal/compose"
	"github.com/pliu/courier/internal/conn"
	"github.com/pliu/courier/internal/models"
	"github.com/pliu/courier/internal/thread"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer-email>",
		Short: "Open a conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := a.sess.Bootstrap(ctx, ""); err != nil {
				return err
			}
			me := a.sess.Identity()
			if me == nil {
				return fmt.Errorf("not logged in; run `courier login` first")
			}

			peers, err := a.client.SearchUsers(ctx, args[0])
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				return fmt.Errorf("no user matching %q", args[0])
			}
			peer := peers[0]

			manager := conn.NewManager(a.cfg.ServerURL, a.logger)
			rec := thread.NewReconciler(me.ID, a.client, a.logger)
			rec.OnChange = newPrinter(me.ID, peer)
			manager.SubscribeInbound(rec.OnInboundPush)

			if err := manager.Bind(*me); err != nil {
				return err
			}
			defer manager.Unbind()

			rec.SelectPeer(ctx, peer)
			pipeline := compose.NewPipeline(me.ID, manager, rec)

			fmt.Printf("chatting with %s — type a message, /quit to leave\n", peer.Email)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.TrimSpace(line) == "/quit" {
					break
				}
				if err := pipeline.Send(line); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
			}
			rec.Deselect()
			return scanner.Err()
		},
	}
}

// newPrinter renders only the messages appended since the previous change,
// so the terminal reads as a running transcript.
func newPrinter(localID string, peer models.Identity) func([]models.Message) {
	var mu sync.Mutex
	printed := 0
	return func(msgs []models.Message) {
		mu.Lock()
		defer mu.Unlock()
		if len(msgs) < printed {
			printed = 0 // thread was replaced
		}
		for _, m := range msgs[printed:] {
			who := peer.Username
			if m.FromUserID == localID {
				who = "you"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
		}
		printed = len(msgs)
	}
}
