package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/bulletchat/auth"
	"github.com/mqy/bulletchat/bullet"
	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/conf"
	"github.com/mqy/bulletchat/session"
	"github.com/mqy/bulletchat/settings"
	"github.com/mqy/bulletchat/store"
	"github.com/mqy/bulletchat/ws"
)

var (
	flagName   = flag.String("name", "", "display name, required")
	flagAvatar = flag.Int("avatar", 0, "avatar index in the avatar catalog")
	flagUserId = flag.String("user-id", "", "chat user id, random if empty")
	flagToken  = flag.String("token", "", "pre-issued chat token, skips the auth endpoint")
)

const help = `commands:
  <text>          send a message
  /sticker N      send sticker N
  /list           list messages with ids
  /delete ID      delete a message (moderator)
  /kick USER      disconnect a user and delete their messages (moderator)
  /bullet on|off  toggle bullet chat
  /mod on|off     request moderator capabilities on next auth
  /url on|off|URL use or set a custom playback url
  /join NAME      set a new display name and reconnect
  /resume         reconnect if disconnected
  /quit           exit`

func main() {
	c, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	bindFlags(c)
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run(c))
}

// bindFlags exposes config fields as flags, defaults come from the environment.
func bindFlags(c *conf.Config) {
	flag.StringVar(&c.SocketURL, "socket-url", c.SocketURL, "chat socket url, ws:// or wss://")
	flag.StringVar(&c.APIURL, "api-url", c.APIURL, "auth api base url")
	flag.StringVar(&c.RoomArn, "room-arn", c.RoomArn, "chat room arn")
	flag.StringVar(&c.StreamURL, "stream-url", c.StreamURL, "default playback url")
	flag.StringVar(&c.SettingsDB, "settings-db", c.SettingsDB, "preferences db file")
	flag.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve prometheus metrics on ip:port if set")
	flag.BoolVar(&c.Moderator, "moderator", c.Moderator, "request moderator capabilities")
	flag.IntVar(&c.BulletRows, "bullet-rows", c.BulletRows, "bullet chat rows")
	flag.IntVar(&c.HistorySize, "history", c.HistorySize, "max visible messages")
	flag.DurationVar(&c.MessageTTL, "message-ttl", c.MessageTTL, "message time to live")
	flag.DurationVar(&c.RefreshInterval, "token-refresh", c.RefreshInterval, "token refresh interval")
}

func run(c *conf.Config) int {
	defer glog.Flush()

	if v := validateFlags(c); v > 0 {
		return v
	}

	prefs, err := settings.Open(c.SettingsDB)
	if err != nil {
		return errorf("settings: %v", err)
	}
	defer prefs.Close()

	if *flagAvatar < 0 || *flagAvatar >= len(chat.Avatars) {
		return errorf("--avatar: expect in range [0, %d)", len(chat.Avatars))
	}

	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				glog.Errorf("metrics server error: %v", err)
			}
		}()
	}

	scheduler := bullet.NewScheduler(prefs.UseBulletChat(), nil)
	scheduler.InitRows(c.BulletRows)

	sess := session.New(&session.Config{
		UserId:          *flagUserId,
		Moderator:       c.Moderator,
		SweepInterval:   c.SweepInterval,
		RefreshInterval: c.RefreshInterval,
		DeleteSpacing:   c.DeleteSpacing,
	}, newAuthClient(c), ws.NewManager(&ws.Config{
		URL:              c.SocketURL,
		HandshakeTimeout: c.SocketTimeout,
	}), store.NewMessageStore(c.HistorySize, c.MessageTTL), scheduler, prefs)

	glog.Infof("bulletchat is starting, uid: %s, playback: %s", sess.UserId(), prefs.PlaybackURL(c.StreamURL))

	sess.Start()
	go render(os.Stdout, sess)
	sess.RefreshIdentity(*flagName, chat.AvatarUrl(*flagAvatar))

	quit := make(chan struct{})
	go readCommands(os.Stdin, os.Stdout, sess, prefs, c.StreamURL, quit)
	fmt.Println(help)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		glog.Infof("received signal `%s` stopping", sig.String())
	case <-quit:
	}

	sess.Close()
	glog.Info("bulletchat exited")
	return 0
}

func newAuthClient(c *conf.Config) auth.Client {
	if *flagToken != "" {
		return &auth.StaticClient{Token: *flagToken}
	}
	return auth.NewHTTPClient(c.APIURL, c.RoomArn, c.TokenMinutes, c.AuthTimeout)
}

func validateFlags(c *conf.Config) int {
	if c.SocketURL == "" {
		return errorf("--socket-url is required")
	}
	if !strings.HasPrefix(c.SocketURL, "ws://") && !strings.HasPrefix(c.SocketURL, "wss://") {
		return errorf("--socket-url: expect ws:// or wss:// url, got `%s`", c.SocketURL)
	}
	if *flagToken == "" && c.APIURL == "" {
		return errorf("--api-url is required without --token")
	}
	if strings.TrimSpace(*flagName) == "" {
		return errorf("--name is required")
	}
	if c.SettingsDB == "" {
		return errorf("--settings-db is required")
	}
	if err := c.Validate(); err != nil {
		return errorf("invalid config: %v", err)
	}
	return 0
}

// render prints messages as they appear in the list, and bullet rows.
func render(w io.Writer, sess *session.Session) {
	messages := sess.Messages()
	incoming := sess.Incoming()
	localKicked := sess.LocalKicked()
	remoteKicked := sess.RemoteKicked()
	notices := sess.Notices()

	shown := make(map[string]bool)
	for {
		select {
		case list, ok := <-messages.C:
			if !ok {
				return
			}
			next := make(map[string]bool, len(list))
			for i := range list {
				m := &list[i]
				key := m.Key()
				next[key] = true
				if !shown[key] {
					fmt.Fprintln(w, formatMessage(m))
				}
			}
			shown = next
		case in, ok := <-incoming.C:
			if !ok {
				return
			}
			if in.Row != nil {
				fmt.Fprintf(w, "%s~~ %s\n", strings.Repeat("  ", *in.Row), in.Message.Content)
			}
		case _, ok := <-localKicked.C:
			if !ok {
				return
			}
			fmt.Fprintln(w, "** you were disconnected by a moderator, /join to come back")
		case uid, ok := <-remoteKicked.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "** %s was removed\n", uid)
		case n, ok := <-notices.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "** %s: %s\n", n.Kind, n.Target)
		}
	}
}

func formatMessage(m *chat.ChatMessage) string {
	switch m.Type {
	case chat.TypeSystemGreen:
		return "[+] connected"
	case chat.TypeSystemRed:
		if m.SenderId != "" {
			return fmt.Sprintf("[!] error %s: %s", m.SenderId, m.Content)
		}
		return fmt.Sprintf("[!] error: %s", m.Content)
	case chat.TypeSticker:
		return fmt.Sprintf("%s: <sticker %s>", m.SenderName, m.Content)
	default:
		return fmt.Sprintf("%s: %s", m.SenderName, m.Content)
	}
}

func readCommands(r io.Reader, w io.Writer, sess *session.Session, prefs settings.IStore, streamURL string, quit chan<- struct{}) {
	defer close(quit)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "/") {
			sess.SendMessage(line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit":
			return
		case "/sticker":
			i, err := strconv.Atoi(arg)
			if err != nil || i < 0 || i >= len(chat.Stickers) {
				fmt.Fprintf(w, "sticker index expect in range [0, %d)\n", len(chat.Stickers))
				continue
			}
			sess.SendSticker(chat.Stickers[i])
		case "/list":
			for _, m := range sess.Snapshot() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Id, m.SenderId, formatMessage(&m))
			}
		case "/delete":
			sess.DeleteMessage(arg)
		case "/kick":
			if !sess.IsModerator() {
				fmt.Fprintln(w, "not a moderator, see /mod")
				continue
			}
			sess.KickUser(arg)
		case "/bullet":
			sess.SetBulletMode(arg == "on")
		case "/mod":
			sess.SetModerator(arg == "on")
		case "/join":
			if arg == "" {
				fmt.Fprintln(w, "/join NAME")
				continue
			}
			sess.RefreshIdentity(arg, chat.AvatarUrl(*flagAvatar))
		case "/url":
			if err := settings.ApplyPlayback(prefs, arg); err != nil {
				fmt.Fprintf(w, "/url on|off|URL: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "playback: %s\n", prefs.PlaybackURL(streamURL))
		case "/resume":
			sess.Resume()
		default:
			fmt.Fprintln(w, help)
		}
	}
	if err := scanner.Err(); err != nil {
		glog.Errorf("read stdin error: %v", err)
	}
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}
