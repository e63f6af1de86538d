package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vovakirdan/sanctuary/internal/core"
)

const consoleHelp = `commands:
  <text>                     send a message
  /reply <msg> <text>        reply to a message (id prefix from /history)
  /react <emoji>             send a reaction
  /hand                      raise or lower your hand
  /mute, /unmute             mute or unmute yourself
  /who                       list participants
  /history                   list recent messages
  /alert <kind> <message>    send an emergency alert
  /promote <who>             host: make a participant a speaker
  /silence <who>             host: mute a participant
  /unsilence <who>           host: unmute a participant
  /unmute-all                host: lift every moderator mute
  /kick <who>                host: remove a participant for good
  /resync                    ask the relay for a fresh snapshot
  /leave                     leave the sanctuary`

const welcomeText = `Welcome. This is an anonymous space: use an alias, share only what you choose,
and be gentle with each other. Messages disappear when the sanctuary closes.`

var errLeave = errors.New("leave")

// console turns input lines into session operations and renders notices.
type console struct {
	out     io.Writer
	session *core.Session
}

// splitCommand separates "/name rest" into name and rest. Plain text has an empty name.
func splitCommand(line string) (name, rest string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, rest, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// matchParticipant finds who by exact alias, then by id prefix. Ambiguous prefixes fail.
func matchParticipant(participants []core.Participant, who string) (core.Participant, error) {
	if who == "" {
		return core.Participant{}, errors.New("name a participant")
	}
	var found []core.Participant
	for _, p := range participants {
		if strings.EqualFold(p.Alias, who) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		for _, p := range participants {
			if strings.HasPrefix(p.ID, who) {
				found = append(found, p)
			}
		}
	}
	switch len(found) {
	case 0:
		return core.Participant{}, fmt.Errorf("no participant %q", who)
	case 1:
		return found[0], nil
	default:
		return core.Participant{}, fmt.Errorf("%q matches %d participants, use an id", who, len(found))
	}
}

// matchMessage finds a message by id prefix, newest first.
func matchMessage(messages []core.ChatMessage, prefix string) (core.ChatMessage, error) {
	if prefix == "" {
		return core.ChatMessage{}, errors.New("name a message")
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.HasPrefix(messages[i].ID, prefix) {
			return messages[i], nil
		}
	}
	return core.ChatMessage{}, fmt.Errorf("no message %q", prefix)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMessage(m core.ChatMessage, reply *core.ReplyContext) string {
	var b strings.Builder
	if reply != nil && reply.Source != core.ReplyNone {
		fmt.Fprintf(&b, "    > %s: %s\n", reply.SenderAlias, reply.Content)
	}
	fmt.Fprintf(&b, "[%s] %s %s: %s", m.Timestamp.Local().Format("15:04"), shortID(m.ID), m.SenderAlias, m.Content)
	if m.Attachment != nil {
		fmt.Fprintf(&b, " [%s]", m.Attachment.URL)
	}
	return b.String()
}

func formatParticipant(p core.Participant) string {
	var tags []string
	if p.IsHost {
		tags = append(tags, "host")
	}
	if p.IsModerator {
		tags = append(tags, "moderator")
	}
	if p.IsSpeaker {
		tags = append(tags, "speaker")
	}
	if p.HostMuted {
		tags = append(tags, "muted by host")
	} else if p.IsMuted {
		tags = append(tags, "muted")
	}
	if p.HandRaised {
		tags = append(tags, "hand raised")
	}
	if p.ConnectionStatus != "" && p.ConnectionStatus != core.StatusConnected {
		tags = append(tags, string(p.ConnectionStatus))
	}
	line := fmt.Sprintf("%s %s", shortID(p.ID), p.Alias)
	if len(tags) > 0 {
		line += " (" + strings.Join(tags, ", ") + ")"
	}
	return line
}

// handle runs one input line. errLeave ends the console.
func (c *console) handle(ctx context.Context, line string) error {
	name, rest := splitCommand(line)
	s := c.session

	switch name {
	case "":
		if rest == "" {
			return nil
		}
		_, err := s.SendMessage(ctx, rest, core.MessageText, nil, "")
		return err
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "reply":
		target, text, _ := strings.Cut(rest, " ")
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		m, err := matchMessage(v.Messages, target)
		if err != nil {
			return err
		}
		_, err = s.SendMessage(ctx, strings.TrimSpace(text), core.MessageText, nil, m.ID)
		return err
	case "react":
		_, err := s.SendEmojiReaction(ctx, rest)
		return err
	case "hand":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		return s.ToggleHand(ctx, !v.Self.HandRaised)
	case "mute":
		return s.SetSelfMuted(ctx, true)
	case "unmute":
		return s.SetSelfMuted(ctx, false)
	case "who":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d here (%s):\n", len(v.Participants), v.Connection)
		for _, p := range v.Participants {
			fmt.Fprintln(c.out, "  "+formatParticipant(p))
		}
		return nil
	case "history":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		if v.Stale {
			fmt.Fprintln(c.out, "(restored from cache, may be out of date)")
		}
		for _, m := range v.Messages {
			fmt.Fprintln(c.out, formatMessage(m, nil))
		}
		return nil
	case "alert":
		kind, msg, _ := strings.Cut(rest, " ")
		return s.SendEmergencyAlert(ctx, kind, strings.TrimSpace(msg))
	case "promote", "silence", "unsilence", "kick":
		v, err := s.Snapshot(ctx)
		if err != nil {
			return err
		}
		p, err := matchParticipant(v.Participants, rest)
		if err != nil {
			return err
		}
		switch name {
		case "promote":
			return s.PromoteToSpeaker(ctx, p.ID)
		case "silence":
			return s.MuteParticipant(ctx, p.ID)
		case "unsilence":
			return s.UnmuteParticipant(ctx, p.ID)
		default:
			return s.KickParticipant(ctx, p.ID)
		}
	case "unmute-all":
		return s.UnmuteAll(ctx)
	case "resync":
		return s.Resync(ctx)
	case "leave", "quit":
		return errLeave
	default:
		return fmt.Errorf("unknown command /%s, try /help", name)
	}
}

// render prints notices until the session closes its notice channel.
func (c *console) render(ctx context.Context) {
	for n := range c.session.Notices() {
		switch n.Kind {
		case core.NoticeConnection:
			fmt.Fprintf(c.out, "-- %s\n", n.Connection)
		case core.NoticeParticipants:
			if v, err := c.session.Snapshot(ctx); err == nil {
				fmt.Fprintf(c.out, "-- %d here\n", len(v.Participants))
			}
		case core.NoticeMessage:
			if n.Message == nil {
				continue
			}
			var reply *core.ReplyContext
			if n.Message.ReplyTo != "" {
				if rc, err := c.session.ResolveReply(ctx, *n.Message); err == nil {
					reply = &rc
				}
			}
			fmt.Fprintln(c.out, formatMessage(*n.Message, reply))
		case core.NoticeReactionAdded:
			if n.Reaction != nil {
				fmt.Fprintf(c.out, "   %s\n", n.Reaction.Emoji)
			}
		case core.NoticeEmergencyAlert:
			if n.Alert != nil {
				fmt.Fprintf(c.out, "!!! %s alert from %s: %s\n", strings.ToUpper(n.Alert.Kind), n.Alert.From, n.Alert.Message)
			}
		case core.NoticeMuteRejected:
			fmt.Fprintln(c.out, "-- a moderator muted you; only they can unmute you")
		case core.NoticeKicked:
			fmt.Fprintln(c.out, "-- you were removed from this sanctuary")
		case core.NoticeSessionEnded:
			fmt.Fprintf(c.out, "-- the sanctuary has ended (%s)\n", n.Reason)
		}
	}
}

// readLines feeds input lines until r is exhausted.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
