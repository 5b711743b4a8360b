package pilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Event is one inbound conversation message.
type Event struct {
	SessionKey string
	SenderID   string
	Text       string
	// ImagePath points at a downloaded attachment, if the message carried
	// one.
	ImagePath string
}

// commandPrefix introduces explicit commands; bare quick-advance text and
// registration inputs work without it.
const commandPrefix = "gal"

// Dispatch routes one conversation event to the matching operation and
// returns the replies to send back. Unrecognized text produces no reply;
// the surrounding chat does not belong to us.
func (p *Pilot) Dispatch(ctx context.Context, ev Event) ([]Reply, error) {
	if ev.ImagePath != "" {
		reply, handled, err := p.HandleImage(ctx, ev.SessionKey, ev.SenderID, ev.ImagePath)
		if err != nil {
			return nil, err
		}
		if handled {
			return []Reply{reply}, nil
		}
		return nil, nil
	}

	// An active registration consumes text before command parsing, so the
	// user can name a button "stop" without ending the session.
	if p.RegistrationActive(ev.SessionKey) {
		reply, handled, err := p.HandleText(ctx, ev.SessionKey, ev.SenderID, ev.Text)
		if err != nil {
			return nil, err
		}
		if handled {
			return []Reply{reply}, nil
		}
	}

	if IsQuickAdvance(ev.Text) {
		return p.one(p.QuickAdvance(ctx, ev.SessionKey))
	}

	verb, arg, ok := parseCommand(ev.Text)
	if !ok {
		return nil, nil
	}

	switch verb {
	case "start":
		return p.one(p.Start(ctx, ev.SessionKey, arg))
	case "stop":
		return p.one(p.Stop(ctx, ev.SessionKey))
	case "resend":
		return p.one(p.Resend(ctx, ev.SessionKey))
	case "key":
		return p.one(p.PressKey(ctx, ev.SessionKey, arg))
	case "click":
		if arg == "" {
			return []Reply{{Text: "Usage: gal click <button>"}}, nil
		}
		return p.one(p.ClickButton(ctx, ev.SessionKey, arg))
	case "register":
		return p.one(p.RegisterButton(ctx, ev.SessionKey, ev.SenderID))
	case "buttons":
		return p.one(p.ListButtons(ctx, ev.SessionKey))
	case "remove":
		if arg == "" {
			return []Reply{{Text: "Usage: gal remove <button>"}}, nil
		}
		return p.one(p.RemoveButton(ctx, ev.SessionKey, arg))
	case "help":
		return []Reply{p.Help()}, nil
	default:
		return []Reply{{Text: fmt.Sprintf("Unknown command %q. Try gal help.", verb)}}, nil
	}
}

// one converts an operation result to Dispatch's shape, rendering the
// user-addressable failures as replies instead of errors.
func (p *Pilot) one(reply Reply, err error) ([]Reply, error) {
	switch {
	case err == nil:
		return []Reply{reply}, nil
	case errors.Is(err, ErrNoSession):
		return []Reply{{Text: "No active session. Use gal start <window title> first."}}, nil
	case errors.Is(err, ErrCooldown):
		// Cooldown rejections are silent: answering every throttled poke
		// would itself spam the conversation.
		return nil, nil
	default:
		return nil, err
	}
}

// parseCommand splits "gal <verb> [arg...]" into its parts. The arg keeps
// internal whitespace so window titles survive.
func parseCommand(text string) (verb, arg string, ok bool) {
	t := strings.TrimSpace(text)
	rest, found := strings.CutPrefix(t, commandPrefix)
	if !found || (rest != "" && rest[0] != ' ') {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", false
	}
	verb, arg, _ = strings.Cut(rest, " ")
	return strings.ToLower(verb), strings.TrimSpace(arg), true
}
