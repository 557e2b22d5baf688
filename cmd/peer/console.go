package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"
	"hubcom/internal/core/services"
	apperrors "hubcom/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

const helpText = `commands:
  /peers                 list peers in the hub
  /to <id|name>          send plain lines to one peer (empty: everyone)
  /call <id|name> [av]   call a peer; a=audio, v=video, av=both
  /accept <session>      answer an incoming call
  /reject <session>      turn an incoming call down
  /cancel <session>      withdraw an unanswered call
  /end <session>         hang up
  /mute <session>        toggle local audio
  /sessions              list media sessions
  /stream [av] | /free   pin or release the shared local stream
  /hub <name>            move to another hub
  /name <peer>           change the announced name
  /start | /stop         join or leave the relay
  /exit                  quit`

// console is the readline front end of the peer command.
type console struct {
	comm       *services.Communicator
	rl         *readline.Instance
	out        io.Writer
	autoAccept bool

	mu     sync.Mutex
	self   string
	target string
	peers  []domain.PeerInfo
	offers map[string]domain.CallData
}

func newConsole(comm *services.Communicator, self string, autoAccept bool) (*console, error) {
	c := &console{
		comm:       comm,
		autoAccept: autoAccept,
		self:       self,
		offers:     make(map[string]domain.CallData),
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline init: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	c.attach()
	return c, nil
}

func (c *console) completer() *readline.PrefixCompleter {
	peers := readline.PcItemDynamic(func(string) []string { return c.peerIDs() })
	sessions := readline.PcItemDynamic(func(string) []string { return c.sessionIDs() })
	return readline.NewPrefixCompleter(
		readline.PcItem("/help"),
		readline.PcItem("/peers"),
		readline.PcItem("/to", peers),
		readline.PcItem("/call", peers),
		readline.PcItem("/accept", sessions),
		readline.PcItem("/reject", sessions),
		readline.PcItem("/cancel", sessions),
		readline.PcItem("/end", sessions),
		readline.PcItem("/mute", sessions),
		readline.PcItem("/sessions"),
		readline.PcItem("/stream"),
		readline.PcItem("/free"),
		readline.PcItem("/hub"),
		readline.PcItem("/name"),
		readline.PcItem("/start"),
		readline.PcItem("/stop"),
		readline.PcItem("/exit"),
	)
}

func (c *console) prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == "" {
		return color.GreenString("%s> ", c.self)
	}
	return color.GreenString("%s@%s> ", c.self, c.target)
}

func (c *console) refreshPrompt() {
	if c.rl != nil {
		c.rl.SetPrompt(c.prompt())
		c.rl.Refresh()
	}
}

// attach routes the communicator's callbacks to the terminal.
func (c *console) attach() {
	c.comm.OnStateChange(func(s domain.NodeState) {
		c.printInfo("node %s %s", s, c.comm.ID())
	})
	c.comm.OnError(func(ev services.ErrorEvent) {
		c.printError("error %d: %s", ev.Code, ev.Reason)
	})
	c.comm.OnPeerChange(func(peers []domain.PeerInfo) {
		c.mu.Lock()
		c.peers = peers
		c.mu.Unlock()
	})
	c.comm.OnPeerStateChange(func(ev services.PeerStateEvent) {
		c.printInfo("direct channel to %s %s", c.peerLabel(ev.Peer), ev.State)
	})
	c.comm.OnMessage(func(env *domain.Envelope) {
		c.message(env)
	})
	c.comm.OnMediaRequest(func(call domain.CallData) {
		c.mediaRequest(call)
	})
	c.comm.OnSessionChange(func(info domain.SessionInfo) {
		c.printInfo("session %s %s (%s)", info.ID, info.State, info.Kind)
		if info.State.Finishing() {
			c.mu.Lock()
			delete(c.offers, info.ID)
			c.mu.Unlock()
		}
	})
	c.comm.OnRemoteStream(func(ev services.RemoteTrackEvent) {
		c.printInfo("session %s receiving %s track %s", ev.Session, ev.Track.Kind(), ev.Track.ID())
	})
	c.comm.OnLocalStream(func(s ports.MediaStream) {
		c.printInfo("local stream %s: %d audio, %d video", s.ID(), len(s.AudioTracks()), len(s.VideoTracks()))
	})
}

func (c *console) message(env *domain.Envelope) {
	from := c.peerLabel(env.From)
	switch env.Type {
	case domain.TypePong:
		var pong domain.PongData
		if err := env.DecodeData(&pong); err == nil {
			c.printInfo("pong from %s, %dms", from, pong.Delay)
		}
	case domain.TypeBye:
		c.printInfo("%s left", from)
	case "chat":
		var chat struct {
			Text string `json:"text"`
		}
		if err := env.DecodeData(&chat); err != nil {
			return
		}
		c.println(color.CyanString("[%s via %s] ", from, env.Via) + chat.Text)
	default:
		c.printInfo("%s from %s: %s", env.Type, from, string(env.Data))
	}
}

func (c *console) mediaRequest(call domain.CallData) {
	if call.Type != domain.CallOffer || call.Conn != nil {
		return
	}
	c.mu.Lock()
	_, known := c.offers[call.ID]
	c.offers[call.ID] = call
	c.mu.Unlock()
	if known {
		return
	}

	kind := domain.KindAudio
	if call.MDesc != nil {
		kind = call.MDesc.Kind()
	}
	if c.autoAccept {
		c.printInfo("accepting %s call %s from %s", kind, call.ID, c.peerLabel(call.From))
		if err := c.comm.MediaResponse(call, true); err != nil {
			c.printError("accept: %v", err)
		}
		return
	}
	c.println(color.YellowString("incoming %s call %s from %s: /accept %s or /reject %s",
		kind, call.ID, c.peerLabel(call.From), call.ID, call.ID))
}

// Run reads commands until /exit, EOF or ctx is done.
func (c *console) Run(ctx context.Context) {
	c.println(color.MagentaString("type /help for commands"))
	for ctx.Err() == nil {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		if !c.handle(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

// handle runs one input line and reports whether to keep reading.
func (c *console) handle(ctx context.Context, line string) bool {
	if line == "" {
		return true
	}
	name, args := parseCommand(line)
	if name == "" {
		c.chat(line)
		return true
	}

	switch name {
	case "help":
		c.println(helpText)
	case "exit", "quit":
		return false
	case "peers":
		c.listPeers()
	case "to":
		c.setTarget(args)
	case "call":
		c.call(args)
	case "accept", "reject":
		c.respond(name == "accept", args)
	case "cancel":
		c.withSession(args, c.comm.CancelSession)
	case "end":
		c.withSession(args, c.comm.EndSession)
	case "mute":
		c.withSession(args, func(id string) error {
			muted, err := c.comm.MuteSession(id)
			if err == nil {
				c.printInfo("session %s muted=%t", id, muted)
			}
			return err
		})
	case "sessions":
		c.listSessions()
	case "stream":
		mdesc, err := parseMedia(firstArg(args, "av"))
		if err == nil {
			err = c.comm.SetLocalStream(ctx, mdesc)
		}
		c.report("stream", err)
	case "free":
		c.comm.FreeLocalStream()
	case "hub":
		c.report("hub", c.comm.SetHub(firstArg(args, "")))
	case "name":
		peer := firstArg(args, "")
		if err := c.comm.SetPeer(peer); err != nil {
			c.report("name", err)
			break
		}
		c.mu.Lock()
		c.self = peer
		c.mu.Unlock()
		c.refreshPrompt()
	case "start":
		c.report("start", c.comm.Start(ctx))
	case "stop":
		c.comm.Stop()
	default:
		c.printError("unknown command /%s, try /help", name)
	}
	return true
}

func (c *console) chat(text string) {
	c.mu.Lock()
	to := c.target
	c.mu.Unlock()
	if !c.comm.Send(map[string]string{"text": text}, "chat", to) {
		c.printError("message not sent")
	}
}

func (c *console) setTarget(args []string) {
	target := ""
	if len(args) > 0 {
		id, ok := c.resolvePeer(args[0])
		if !ok {
			c.printError("unknown peer %s", args[0])
			return
		}
		target = id
	}
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
	c.refreshPrompt()
}

func (c *console) call(args []string) {
	if len(args) == 0 {
		c.printError("usage: /call <id|name> [a|v|av]")
		return
	}
	to, ok := c.resolvePeer(args[0])
	if !ok {
		c.printError("unknown peer %s", args[0])
		return
	}
	mdesc, err := parseMedia(firstArg(args[1:], "av"))
	if err != nil {
		c.printError("call: %v", err)
		return
	}
	id := c.comm.MediaRequest(services.MediaRequest{To: to, MDesc: mdesc})
	if id == "" {
		c.printError("call to %s not placed; is the direct channel open?", c.peerLabel(to))
		return
	}
	c.printInfo("calling %s, session %s", c.peerLabel(to), id)
}

func (c *console) respond(accept bool, args []string) {
	id := firstArg(args, "")
	c.mu.Lock()
	call, ok := c.offers[id]
	c.mu.Unlock()
	if !ok {
		c.printError("no pending call %q", id)
		return
	}
	c.report("response", c.comm.MediaResponse(call, accept))
}

func (c *console) withSession(args []string, fn func(id string) error) {
	id := firstArg(args, "")
	if id == "" {
		c.printError("session id required")
		return
	}
	c.report("session", fn(id))
}

func (c *console) listPeers() {
	peers := c.comm.Peers()
	if len(peers) == 0 {
		c.printInfo("no peers")
		return
	}
	for _, p := range peers {
		c.println(fmt.Sprintf("  %s  %-16s channel=%-5s rtt=%dms audio=%d video=%d",
			p.ID, p.Name, p.Channel, p.RTDelay, p.Support.Audio, p.Support.Video))
	}
}

func (c *console) listSessions() {
	sessions := c.comm.Sessions()
	if len(sessions) == 0 {
		c.printInfo("no sessions")
		return
	}
	for _, s := range sessions {
		c.println(fmt.Sprintf("  %s  %s -> %s  %s audio=%s video=%s muted=%t",
			s.ID, c.peerLabel(s.From), c.peerLabel(s.To), s.State, s.AudioDir, s.VideoDir, s.Muted))
	}
}

// resolvePeer accepts a connection id or a unique peer name.
func (c *console) resolvePeer(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	match := ""
	for _, p := range c.peers {
		if p.ID == ref {
			return p.ID, true
		}
		if p.Name == ref {
			if match != "" {
				return "", false
			}
			match = p.ID
		}
	}
	return match, match != ""
}

func (c *console) peerLabel(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p.ID == id && p.Name != "" {
			return p.Name
		}
	}
	return id
}

func (c *console) peerIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, 2*len(c.peers))
	for _, p := range c.peers {
		out = append(out, p.ID)
		if p.Name != "" {
			out = append(out, p.Name)
		}
	}
	return out
}

func (c *console) sessionIDs() []string {
	sessions := c.comm.Sessions()
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID)
	}
	sort.Strings(out)
	return out
}

func (c *console) report(what string, err error) {
	switch {
	case err == nil:
	case apperrors.HasCode(err, apperrors.ErrCodeNotFound):
		c.printError("%s: no such session", what)
	case apperrors.HasCode(err, apperrors.ErrCodeNotImplemented):
		c.printInfo("%s: not supported by this client", what)
	default:
		c.printError("%s: %v", what, err)
	}
}

func (c *console) println(line string) {
	fmt.Fprintln(c.out, line)
}

func (c *console) printInfo(format string, args ...interface{}) {
	c.println(color.BlueString(format, args...))
}

func (c *console) printError(format string, args ...interface{}) {
	c.println(color.RedString(format, args...))
}

// Close releases the terminal. Safe to call more than once.
func (c *console) Close() {
	if c.rl != nil {
		_ = c.rl.Close()
	}
}

// parseCommand splits "/name arg..." and returns an empty name for plain text.
func parseCommand(line string) (string, []string) {
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// parseMedia turns "a", "v" or "av" into a media description with default
// directions. A trailing "-" on a kind makes it receive only: "av-".
func parseMedia(arg string) (domain.MediaDesc, error) {
	var mdesc domain.MediaDesc
	arg = strings.ToLower(arg)
	for i := 0; i < len(arg); i++ {
		desc := &domain.TrackDesc{Dir: domain.DirSendRecv}
		if i+1 < len(arg) && arg[i+1] == '-' {
			desc.Dir = domain.DirRecvOnly
		}
		switch arg[i] {
		case 'a':
			mdesc.Audio = desc
		case 'v':
			mdesc.Video = desc
		case '-':
			continue
		default:
			return domain.MediaDesc{}, fmt.Errorf("unknown media %q", arg[i])
		}
	}
	if mdesc.Empty() {
		return domain.MediaDesc{}, fmt.Errorf("no media in %q", arg)
	}
	return mdesc, nil
}

func firstArg(args []string, def string) string {
	if len(args) == 0 {
		return def
	}
	return args[0]
}
