package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/bulletchat/auth"
	"github.com/mqy/bulletchat/chat"
	"github.com/mqy/bulletchat/dev/fakeroom"
)

// The demo server runs a fake chat room on one address: `POST /auth` issues
// tokens, any other path serves the socket. A bot posts on a ticker.
//
//   go run ./dev/demo --addr 127.0.0.1:8000
//   go run . --socket-url ws://127.0.0.1:8000/ws --api-url http://127.0.0.1:8000

var (
	flagAddr           = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagTickerDuration = flag.Duration("ticker-duration", 5*time.Second, "bot message interval, 0 to disable")
)

var bots = []fakeroom.Member{
	{UserId: "bot-1", Username: "Ada", Avatar: chat.AvatarUrl(0), Capabilities: auth.Capabilities(false)},
	{UserId: "bot-2", Username: "Linus", Avatar: chat.AvatarUrl(1), Capabilities: auth.Capabilities(false)},
}

var lines = []string{
	"hello everyone",
	"what a play!",
	"is the stream lagging for anyone else?",
	"gg",
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if err := validateAddr(*flagAddr); err != nil {
		glog.Errorf("--addr: %v", err)
		return 1
	}

	room := fakeroom.New()
	srv := &http.Server{Addr: *flagAddr, Handler: room.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flagTickerDuration > 0 {
		go botLoop(ctx, room, *flagTickerDuration)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		glog.Infof("received signal `%s` stopping", sig.String())
		cancel()
		room.CloseAll(chat.CloseCodeRestart, chat.CloseReasonRestart)
		_ = srv.Shutdown(context.Background())
	}()

	glog.Infof("demo room is listening on %s", *flagAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		glog.Errorf("listen error: %v", err)
		return 1
	}
	glog.Info("demo room exited")
	return 0
}

func botLoop(ctx context.Context, room *fakeroom.Room, d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	var i int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bot := bots[i%len(bots)]
			env := room.Post(bot, lines[i%len(lines)])
			glog.V(5).Infof("bot %s posted %s", bot.Username, env.Id)
			i++
		}
	}
}

func validateAddr(s string) error {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", host)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", host)
	}
	return nil
}
