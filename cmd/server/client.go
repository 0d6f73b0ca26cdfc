package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-signaling/internal/client"
	"github.com/vovakirdan/wirechat-signaling/internal/config"
	"github.com/vovakirdan/wirechat-signaling/internal/core"
	"github.com/vovakirdan/wirechat-signaling/internal/log"
)

const leaveTimeout = 2 * time.Second

const clientHelp = `commands:
  /video on|off  /audio on|off  /share on|off
  /signal <participant> <json>   send a negotiation payload
  /admit <candidate>  /deny <candidate> [reason]  /admitall
  /who  /quality  /retry  /quit`

func clientCmd() *cobra.Command {
	var (
		servers []string
		room    string
		user    string
		name    string
		role    string
		token   string
		note    string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a room from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(nil, configPath)
			if err != nil {
				return err
			}
			if len(servers) > 0 {
				cfg.Client.Servers = servers
			}
			if name == "" {
				name = user
			}
			logger := log.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session := client.New(client.Config{
				Servers:           cfg.Client.Servers,
				RoomID:            room,
				UserID:            user,
				DisplayName:       name,
				Role:              core.Role(role),
				RequestMessage:    note,
				SubscribeTimeout:  cfg.Client.SubscribeTimeout,
				BaseDelay:         cfg.Client.BaseDelay,
				MaxDelay:          cfg.Client.MaxDelay,
				MaxAttempts:       cfg.Client.MaxAttempts,
				MinSendInterval:   cfg.Client.MinSendInterval,
				QueueSize:         cfg.Client.QueueSize,
				HeartbeatInterval: cfg.Client.HeartbeatInterval,
			}, client.WSDialer{Token: token, User: user, Name: name}, client.ListenerFunc(printEvent),
				client.WithLogger(logger))

			if err := session.Connect(ctx); err != nil {
				return err
			}
			defer session.Close()

			fmt.Printf("Joining room %s as %s. Type /help for commands, Ctrl+C to exit.\n", room, user)
			return commandLoop(ctx, session)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&servers, "server", nil, "signaling server URL (repeatable)")
	flags.StringVar(&room, "room", "general", "room to join")
	flags.StringVar(&user, "user", "cli-user", "user id")
	flags.StringVar(&name, "name", "", "display name (defaults to user id)")
	flags.StringVar(&role, "role", string(core.RoleParticipant), "requested role")
	flags.StringVar(&token, "token", "", "bearer token")
	flags.StringVar(&note, "message", "", "note shown to hosts while waiting")

	return cmd
}

func commandLoop(ctx context.Context, session *client.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return leave(session)
		case line, ok := <-lines:
			if !ok {
				return leave(session)
			}
			quit, err := runCommand(ctx, session, strings.Fields(line))
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			if quit {
				return leave(session)
			}
		}
	}
}

func leave(session *client.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	return session.Leave(ctx)
}

func runCommand(ctx context.Context, session *client.Session, args []string) (bool, error) {
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "/quit":
		return true, nil
	case "/help":
		fmt.Println(clientHelp)
	case "/video", "/audio", "/share":
		if len(args) != 2 {
			return false, errors.New("usage: " + args[0] + " on|off")
		}
		on := args[1] == "on"
		var patch core.MediaPatch
		switch args[0] {
		case "/video":
			patch.VideoEnabled = &on
		case "/audio":
			patch.AudioEnabled = &on
		default:
			patch.ScreenSharing = &on
		}
		return false, session.UpdateMediaState(ctx, patch)
	case "/signal":
		if len(args) < 3 {
			return false, errors.New("usage: /signal <participant> <json>")
		}
		return false, session.SendNegotiationMessage(ctx, args[1], []byte(strings.Join(args[2:], " ")))
	case "/admit":
		if len(args) != 2 {
			return false, errors.New("usage: /admit <candidate>")
		}
		return false, session.Admit(ctx, args[1])
	case "/deny":
		if len(args) < 2 {
			return false, errors.New("usage: /deny <candidate> [reason]")
		}
		return false, session.Deny(ctx, args[1], strings.Join(args[2:], " "))
	case "/admitall":
		return false, session.AdmitAll(ctx)
	case "/who":
		for _, p := range session.Participants() {
			fmt.Printf("  %s %s (%s) %s\n", p.ID, p.DisplayName, p.Role, mediaSummary(p.Media))
		}
	case "/quality":
		fmt.Printf("state=%s quality=%s\n", session.State(), session.Quality())
	case "/retry":
		return false, session.Retry(ctx)
	default:
		return false, fmt.Errorf("unknown command %q, try /help", args[0])
	}
	return false, nil
}

func printEvent(e client.Event) {
	switch ev := e.(type) {
	case client.StateChanged:
		if ev.To == client.StateReconnecting {
			fmt.Printf("* reconnecting (attempt %d in %s)\n", ev.Attempt, ev.Delay)
			return
		}
		fmt.Printf("* %s -> %s\n", ev.From, ev.To)
	case client.ParticipantJoined:
		fmt.Printf("+ %s joined as %s (%s)\n", ev.Participant.DisplayName, ev.Participant.ID, ev.Participant.Role)
	case client.ParticipantLeft:
		fmt.Printf("- %s left\n", ev.Participant.DisplayName)
	case client.MediaStateChanged:
		fmt.Printf("~ %s %s\n", ev.Participant.DisplayName, mediaSummary(ev.Participant.Media))
	case client.NegotiationReceived:
		fmt.Printf("< %s: %s\n", ev.From, ev.Payload)
	case client.AdmissionChanged:
		if ev.Reason != "" {
			fmt.Printf("* admission %s: %s\n", ev.Status, ev.Reason)
			return
		}
		fmt.Printf("* admission %s\n", ev.Status)
	case client.AdmissionRequested:
		fmt.Printf("? %s (%s) asks to join as %s: %s\n", ev.DisplayName, ev.UserID, ev.CandidateID, ev.Message)
	case client.AdmitAllCompleted:
		fmt.Printf("* admitted %d waiting\n", ev.Count)
	case client.ConnectionQualityChanged:
		fmt.Printf("* quality %s (rtt %s)\n", ev.Quality, ev.Stats.RTT)
	case client.ConnectionLost:
		fmt.Printf("! connection lost: %v\n", ev.Err)
	case client.ConnectionFailed:
		fmt.Printf("! gave up after %d attempts: %v (type /retry)\n", ev.Attempts, ev.Err)
	case client.ServerError:
		fmt.Printf("! server: %v\n", ev.Err)
	}
}

func mediaSummary(m core.MediaState) string {
	flag := func(name string, on bool) string {
		if on {
			return name
		}
		return "no-" + name
	}
	return strings.Join([]string{
		flag("video", m.VideoEnabled),
		flag("audio", m.AudioEnabled),
		flag("share", m.ScreenSharing),
	}, " ")
}
